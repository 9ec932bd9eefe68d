package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearSwimEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SWIM_NAME", "SWIM_PEERS", "SWIM_SECRET", "SWIM_SECRET_FILE",
		"SWIM_METADATA", "SWIM_PING_INTERVAL", "SWIM_DISCOVERY_REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearSwimEnv(t)
	t.Setenv("SWIM_NAME", "node-a")
	t.Setenv("SWIM_PEERS", "node-b,node-c")
	t.Setenv("SWIM_SECRET", "shh")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.Cluster.LocalName)
	assert.Equal(t, []string{"node-b", "node-c"}, cfg.Cluster.Peers)
	assert.Equal(t, 1, cfg.Cluster.PingReqCount)
	assert.Equal(t, "udp", cfg.Transport.Kind)
}

func TestLoadMissingNameFails(t *testing.T) {
	clearSwimEnv(t)
	t.Setenv("SWIM_PEERS", "node-b")
	t.Setenv("SWIM_SECRET", "shh")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadMissingPeersAndDiscoveryFails(t *testing.T) {
	clearSwimEnv(t)
	t.Setenv("SWIM_NAME", "node-a")
	t.Setenv("SWIM_SECRET", "shh")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDiscoverySatisfiesMissingPeers(t *testing.T) {
	clearSwimEnv(t)
	t.Setenv("SWIM_NAME", "node-a")
	t.Setenv("SWIM_SECRET", "shh")
	t.Setenv("SWIM_DISCOVERY_REDIS_ADDR", "localhost:6379")

	_, err := Load()
	assert.NoError(t, err)
}

func TestLoadMissingSecretFails(t *testing.T) {
	clearSwimEnv(t)
	t.Setenv("SWIM_NAME", "node-a")
	t.Setenv("SWIM_PEERS", "node-b")

	_, err := Load()
	assert.Error(t, err)
}

func TestSecretFromFile(t *testing.T) {
	clearSwimEnv(t)
	f, err := os.CreateTemp(t.TempDir(), "secret")
	require.NoError(t, err)
	_, err = f.WriteString("file-secret\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("SWIM_NAME", "node-a")
	t.Setenv("SWIM_PEERS", "node-b")
	t.Setenv("SWIM_SECRET_FILE", f.Name())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file-secret", cfg.Cluster.Secret)
}

func TestLoadGeneratesRandomAdminJWTSecretByDefault(t *testing.T) {
	clearSwimEnv(t)
	t.Setenv("SWIM_NAME", "node-a")
	t.Setenv("SWIM_PEERS", "node-b")
	t.Setenv("SWIM_SECRET", "shh")
	t.Setenv("SWIM_ADMIN_JWT_SECRET", "")

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, first.Admin.JWTSecret)
	assert.NotEqual(t, first.Admin.JWTSecret, second.Admin.JWTSecret)
}

func TestLoadHonorsExplicitAdminJWTSecret(t *testing.T) {
	clearSwimEnv(t)
	t.Setenv("SWIM_NAME", "node-a")
	t.Setenv("SWIM_PEERS", "node-b")
	t.Setenv("SWIM_SECRET", "shh")
	t.Setenv("SWIM_ADMIN_JWT_SECRET", "pinned-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pinned-secret", cfg.Admin.JWTSecret)
}

func TestParseMetadata(t *testing.T) {
	md := parseMetadata("role=edge,zone=us-east-1")
	assert.Equal(t, []byte("edge"), md["role"])
	assert.Equal(t, []byte("us-east-1"), md["zone"])
}
