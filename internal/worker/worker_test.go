package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/swimring/internal/cluster"
	"github.com/ruvnet/swimring/internal/config"
	"github.com/ruvnet/swimring/internal/transport"
)

type node struct {
	name     string
	registry *cluster.Registry
	tr       *transport.MemoryTransport
	worker   *Worker
}

func testConfig() config.ClusterConfig {
	return config.ClusterConfig{
		PingInterval:   20 * time.Millisecond,
		PingTimeout:    40 * time.Millisecond,
		PingReqCount:   1,
		PingReqTimeout: 60 * time.Millisecond,
		SuspectTimeout: 150 * time.Millisecond,
		SyncInterval:   20 * time.Millisecond,
	}
}

func newNode(t *testing.T, hub *transport.MemoryHub, name string, peers []string) *node {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := cluster.NewRegistry(name, cluster.Metadata{}, peers, logger)
	tr := transport.NewMemoryTransport(hub, name, 64)
	w := NewWorker(testConfig(), registry, tr, nil, logger)
	return &node{name: name, registry: registry, tr: tr, worker: w}
}

func startAll(ctx context.Context, nodes ...*node) {
	for _, n := range nodes {
		go n.worker.Run(ctx)
	}
}

func awaitStatus(t *testing.T, r *cluster.Registry, name string, want cluster.Status, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if r.Get(name, nil).Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("member %s did not reach status %s within %s (got %s)",
		name, want, within, r.Get(name, nil).Status())
}

func TestDirectPingKeepsMemberOnline(t *testing.T) {
	hub := transport.NewMemoryHub()
	a := newNode(t, hub, "a", []string{"b"})
	b := newNode(t, hub, "b", []string{"a"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	startAll(ctx, a, b)

	awaitStatus(t, a.registry, "b", cluster.ONLINE, time.Second)
}

func TestUnreachableMemberBecomesSuspectThenOffline(t *testing.T) {
	hub := transport.NewMemoryHub()
	a := newNode(t, hub, "a", []string{"b"})
	// b is never started and never registers with the hub, so every
	// send to it fails immediately: a direct analog of total packet
	// loss to that peer.
	// A failed probe leaves an OFFLINE member OFFLINE, so b has to be
	// known ONLINE before it can be suspected.
	online := cluster.ONLINE
	a.registry.Update("b", &online, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	startAll(ctx, a)

	awaitStatus(t, a.registry, "b", cluster.SUSPECT, time.Second)
	awaitStatus(t, a.registry, "b", cluster.OFFLINE, time.Second)
}

func TestMemberStaysOnlineWithHelperPresent(t *testing.T) {
	// No packet is dropped here, so a's direct pings to b normally
	// succeed; the memory transport cannot drop only a-to-b traffic.
	hub := transport.NewMemoryHub()
	a := newNode(t, hub, "a", []string{"b", "helper"})
	helper := newNode(t, hub, "helper", []string{"a", "b"})
	b := newNode(t, hub, "b", []string{"a", "helper"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	startAll(ctx, a, helper, b)

	awaitStatus(t, a.registry, "b", cluster.ONLINE, time.Second)
	awaitStatus(t, helper.registry, "b", cluster.ONLINE, time.Second)
}

func TestGossipDisseminatesMetadataAndStatus(t *testing.T) {
	hub := transport.NewMemoryHub()
	a := newNode(t, hub, "a", []string{"b", "c"})
	b := newNode(t, hub, "b", []string{"a", "c"})
	c := newNode(t, hub, "c", []string{"a", "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	startAll(ctx, a, b, c)

	// Every node eventually learns every other node is ONLINE purely
	// through direct probing plus gossip dissemination.
	awaitStatus(t, a.registry, "b", cluster.ONLINE, 2*time.Second)
	awaitStatus(t, a.registry, "c", cluster.ONLINE, 2*time.Second)
	awaitStatus(t, b.registry, "a", cluster.ONLINE, 2*time.Second)
	awaitStatus(t, b.registry, "c", cluster.ONLINE, 2*time.Second)
	awaitStatus(t, c.registry, "a", cluster.ONLINE, 2*time.Second)
	awaitStatus(t, c.registry, "b", cluster.ONLINE, 2*time.Second)
}

func TestSuspectRevivalViaGossipCancelsOfflineTimeout(t *testing.T) {
	// Exercises only the suspect-timeout loop in isolation, so a
	// concurrently running failure-detection prober can't re-suspect the
	// member and confound the race this test is about.
	hub := transport.NewMemoryHub()
	a := newNode(t, hub, "a", []string{"t"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.worker.runSuspectTimeout(ctx)

	online := cluster.ONLINE
	a.registry.Update("t", &online, nil)
	suspect := cluster.SUSPECT
	a.registry.Update("t", &suspect, nil)

	// Give the suspect-timeout loop a moment to observe the SUSPECT
	// transition over the change feed and arm its one-shot timer before
	// racing it with a revival.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, cluster.SUSPECT, a.registry.Get("t", nil).Status())

	// A revival gossip arrives from a third party well before the
	// one-shot timer fires; it should win the race and cancel the
	// pending OFFLINE transition.
	a.registry.Apply("t", "other", a.registry.Get("t", nil).Clock()+1, cluster.ONLINE, cluster.Metadata{})

	time.Sleep(a.worker.cfg.SuspectTimeout)
	assert.Equal(t, cluster.ONLINE, a.registry.Get("t", nil).Status())
}

func TestSuspectMemberGoesOfflineAfterOneShotTimeout(t *testing.T) {
	// The one-shot timer must fire on its own, without any periodic
	// sweep and without waiting up to 2x the configured timeout.
	hub := transport.NewMemoryHub()
	a := newNode(t, hub, "a", []string{"t"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.worker.runSuspectTimeout(ctx)

	online := cluster.ONLINE
	a.registry.Update("t", &online, nil)
	suspect := cluster.SUSPECT
	a.registry.Update("t", &suspect, nil)

	awaitStatus(t, a.registry, "t", cluster.OFFLINE, 2*a.worker.cfg.SuspectTimeout)
}
