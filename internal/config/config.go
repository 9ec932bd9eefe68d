// Package config loads and validates the settings a cluster node needs to
// run: the SWIM timing parameters, the local member's identity, and the
// ambient transport/discovery/audit/admin backends layered on top of the
// core.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ruvnet/swimring/internal/cerrors"
)

// Config holds everything needed to start a cluster node.
type Config struct {
	Cluster   ClusterConfig   `json:"cluster"`
	Transport TransportConfig `json:"transport"`
	Discovery DiscoveryConfig `json:"discovery"`
	Audit     AuditConfig     `json:"audit"`
	Admin     AdminConfig     `json:"admin"`
	Logging   LoggingConfig   `json:"logging"`
}

// ClusterConfig mirrors the SWIM tuning parameters: identity, shared
// secret, bootstrap peers, and the failure-detection/dissemination
// timers.
type ClusterConfig struct {
	Secret        string            `json:"-"`
	LocalName     string            `json:"local_name"`
	LocalMetadata map[string][]byte `json:"local_metadata"`
	Peers         []string          `json:"peers"`

	PingInterval    time.Duration `json:"ping_interval"`
	PingTimeout     time.Duration `json:"ping_timeout"`
	PingReqCount    int           `json:"ping_req_count"`
	PingReqTimeout  time.Duration `json:"ping_req_timeout"`
	SuspectTimeout  time.Duration `json:"suspect_timeout"`
	SyncInterval    time.Duration `json:"sync_interval"`
}

// TransportConfig selects and configures the wire transport.
type TransportConfig struct {
	Kind     string `json:"kind"` // "udp", "nats", or "memory"
	BindAddr string `json:"bind_addr"`
	NATSURL  string `json:"nats_url"`
}

// DiscoveryConfig configures bootstrap peer discovery beyond the static
// Peers list.
type DiscoveryConfig struct {
	RedisAddr string `json:"redis_addr"`
	RedisKey  string `json:"redis_key"`
}

// AuditConfig configures the optional Postgres change-history sink.
type AuditConfig struct {
	DSN string `json:"-"`
}

// AdminConfig configures the admin HTTP/gRPC query surface.
type AdminConfig struct {
	HTTPAddr  string `json:"http_addr"`
	GRPCAddr  string `json:"grpc_addr"`
	JWTSecret string `json:"-"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `json:"level"`
}

// Load reads configuration from the environment, falling back to the
// SWIM reference defaults from the original protocol description.
func Load() (*Config, error) {
	cfg := &Config{
		Cluster: ClusterConfig{
			Secret:         getSecret(),
			LocalName:      getEnv("SWIM_NAME", ""),
			LocalMetadata:  parseMetadata(getEnv("SWIM_METADATA", "")),
			Peers:          splitNonEmpty(getEnv("SWIM_PEERS", "")),
			PingInterval:   getEnvDuration("SWIM_PING_INTERVAL", time.Second),
			PingTimeout:    getEnvDuration("SWIM_PING_TIMEOUT", 300*time.Millisecond),
			PingReqCount:   getEnvInt("SWIM_PING_REQ_COUNT", 1),
			PingReqTimeout: getEnvDuration("SWIM_PING_REQ_TIMEOUT", 900*time.Millisecond),
			SuspectTimeout: getEnvDuration("SWIM_SUSPECT_TIMEOUT", 5*time.Second),
			SyncInterval:   getEnvDuration("SWIM_SYNC_INTERVAL", 500*time.Millisecond),
		},
		Transport: TransportConfig{
			Kind:     getEnv("SWIM_TRANSPORT", "udp"),
			BindAddr: getEnv("SWIM_BIND_ADDR", "0.0.0.0:7946"),
			NATSURL:  getEnv("SWIM_NATS_URL", "nats://localhost:4222"),
		},
		Discovery: DiscoveryConfig{
			RedisAddr: getEnv("SWIM_DISCOVERY_REDIS_ADDR", ""),
			RedisKey:  getEnv("SWIM_DISCOVERY_REDIS_KEY", "swimring:peers"),
		},
		Audit: AuditConfig{
			DSN: getEnv("SWIM_AUDIT_DSN", ""),
		},
		Admin: AdminConfig{
			HTTPAddr:  getEnv("SWIM_ADMIN_HTTP_ADDR", ":8500"),
			GRPCAddr:  getEnv("SWIM_ADMIN_GRPC_ADDR", ":8501"),
			JWTSecret: getAdminJWTSecret(),
		},
		Logging: LoggingConfig{
			Level: getEnv("SWIM_LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Cluster.LocalName == "" {
		return cerrors.NewConfigError("this cluster instance needs a local name (SWIM_NAME)")
	}
	if len(c.Cluster.Peers) == 0 && c.Discovery.RedisAddr == "" {
		return cerrors.NewConfigError("at least one cluster peer is required (SWIM_PEERS or SWIM_DISCOVERY_REDIS_ADDR)")
	}
	if c.Cluster.Secret == "" {
		return cerrors.NewConfigError("a shared secret is required (SWIM_SECRET or SWIM_SECRET_FILE)")
	}
	if c.Cluster.PingReqCount < 0 {
		return cerrors.NewConfigError("ping_req_count must be non-negative")
	}
	return nil
}

// getAdminJWTSecret returns the configured admin bearer-token signing
// secret, or a freshly generated random one if SWIM_ADMIN_JWT_SECRET is
// unset. A random default still enforces auth (unlike an empty secret,
// which adminapi treats as "auth disabled"); operators who need to
// issue tokens from somewhere other than this process must pin
// SWIM_ADMIN_JWT_SECRET explicitly instead of relying on the random
// default.
func getAdminJWTSecret() string {
	if value := os.Getenv("SWIM_ADMIN_JWT_SECRET"); value != "" {
		return value
	}
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(buf[:])
}

func getSecret() string {
	if path := os.Getenv("SWIM_SECRET_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimRight(string(data), "\r\n")
		}
	}
	return getEnv("SWIM_SECRET", "")
}

func parseMetadata(raw string) map[string][]byte {
	if raw == "" {
		return map[string][]byte{}
	}
	out := make(map[string][]byte)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = []byte(kv[1])
	}
	return out
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
