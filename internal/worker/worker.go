// Package worker implements the four long-running loops that drive a
// cluster node: the inbound packet dispatcher, the failure-detection
// prober, the gossip disseminator, and the per-member suspect-timeout
// timer that promotes a long-unreachable member to OFFLINE.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ruvnet/swimring/internal/cluster"
	"github.com/ruvnet/swimring/internal/config"
	"github.com/ruvnet/swimring/internal/metrics"
	"github.com/ruvnet/swimring/internal/packet"
	"github.com/ruvnet/swimring/internal/transport"
)

// Worker owns the failure-detection and dissemination state machines for
// one local cluster member. It never touches the registry's lock
// directly; all state changes go through the Registry's own exported
// methods, which are safe for concurrent use.
type Worker struct {
	cfg      config.ClusterConfig
	registry *cluster.Registry
	tr       transport.Transport
	metrics  *metrics.Metrics
	logger   *zap.Logger

	waitMu  sync.Mutex
	waiting map[string][]chan struct{}

	listenMu  sync.Mutex
	listening map[string][]string
}

// NewWorker wires a Worker around an already-constructed Registry and
// Transport. metrics may be nil to disable instrumentation.
func NewWorker(cfg config.ClusterConfig, registry *cluster.Registry, tr transport.Transport, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:       cfg,
		registry:  registry,
		tr:        tr,
		metrics:   m,
		logger:    logger,
		waiting:   make(map[string][]chan struct{}),
		listening: make(map[string][]string),
	}
}

// Run blocks until ctx is canceled, running the handler, failure
// detection, dissemination, and suspect-timeout loops concurrently.
func (w *Worker) Run(ctx context.Context) {
	loops := []func(context.Context){
		w.runHandler,
		w.runFailureDetection,
		w.runDissemination,
		w.runSuspectTimeout,
	}
	var wg sync.WaitGroup
	wg.Add(len(loops))
	for _, loop := range loops {
		loop := loop
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) localSource() packet.Source {
	local := w.registry.Local()
	return packet.Source{Name: local.Name, Validity: local.Validity()}
}

// --- waiting / listening bookkeeping ---
//
// These replace the reference implementation's weak-reference event maps
// (see cluster.WeakShuffle for the broader rationale): cluster members
// live for the process lifetime here, so a plain mutex-guarded map with
// explicit add/remove is equivalent without needing weak collections.

func (w *Worker) addWaiting(name string) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	w.waitMu.Lock()
	w.waiting[name] = append(w.waiting[name], ch)
	w.waitMu.Unlock()

	cancel := func() {
		w.waitMu.Lock()
		defer w.waitMu.Unlock()
		chans := w.waiting[name]
		for i, c := range chans {
			if c == ch {
				w.waiting[name] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(w.waiting[name]) == 0 {
			delete(w.waiting, name)
		}
	}
	return ch, cancel
}

func (w *Worker) notifyWaiting(name string) {
	w.waitMu.Lock()
	chans := w.waiting[name]
	delete(w.waiting, name)
	w.waitMu.Unlock()
	for _, c := range chans {
		close(c)
	}
}

func (w *Worker) addListening(targetName, waiterName string) {
	w.listenMu.Lock()
	defer w.listenMu.Unlock()
	w.listening[targetName] = append(w.listening[targetName], waiterName)
}

func (w *Worker) popListening(targetName string) []string {
	w.listenMu.Lock()
	defer w.listenMu.Unlock()
	waiters := w.listening[targetName]
	delete(w.listening, targetName)
	return waiters
}

func (w *Worker) wait(ctx context.Context, ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// recoverLoop logs and swallows a panic raised inside one iteration of a
// worker loop body, so a single bad packet or nil dereference can't take
// down the whole node. The dispatcher (or prober, or disseminator) keeps
// running on the next iteration.
func (w *Worker) recoverLoop(name string) {
	if r := recover(); r != nil {
		w.logger.Error("recovered panic in worker loop", zap.String("loop", name), zap.Any("panic", r))
	}
}

// --- inbound dispatcher ---

func (w *Worker) runHandler(ctx context.Context) {
	for {
		p, err := w.tr.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if w.metrics != nil {
				w.metrics.RecordPacketDropped("recv_error")
			}
			continue
		}
		w.handle(ctx, p)
	}
}

func (w *Worker) handle(ctx context.Context, p packet.Packet) {
	defer w.recoverLoop("handle")
	w.dispatch(ctx, p)
}

func (w *Worker) dispatch(ctx context.Context, p packet.Packet) {
	switch v := p.(type) {
	case packet.Ping:
		source := w.registry.Get(v.Src.Name, &v.Src.Validity)
		_ = w.tr.Send(ctx, source, packet.Ack{Src: w.localSource()})

	case packet.PingReq:
		source := w.registry.Get(v.Src.Name, &v.Src.Validity)
		target := w.registry.Get(v.Target, nil)
		w.addListening(target.Name, source.Name)
		_ = w.tr.Send(ctx, target, packet.Ping{Src: w.localSource()})
		if w.metrics != nil {
			w.metrics.RecordPingReqSent(target.Name)
		}

	case packet.Ack:
		source := w.registry.Get(v.Src.Name, &v.Src.Validity)
		w.notifyWaiting(source.Name)
		if w.metrics != nil {
			w.metrics.RecordAckReceived()
		}
		for _, waiterName := range w.popListening(source.Name) {
			waiter := w.registry.Get(waiterName, nil)
			_ = w.tr.Send(ctx, waiter, v)
		}

	case packet.Gossip:
		if w.metrics != nil {
			w.metrics.RecordGossipReceived()
		}
		w.registry.Apply(v.Name, v.Src.Name, v.Clock, v.Status, v.Metadata)
		source := w.registry.Get(v.Src.Name, &v.Src.Validity)
		_ = w.tr.Send(ctx, source, packet.GossipAck{Src: w.localSource(), Name: v.Name, Clock: v.Clock})
		if w.metrics != nil {
			w.metrics.RecordGossipAcked()
		}

	case packet.GossipAck:
		source := w.registry.Get(v.Src.Name, &v.Src.Validity)
		w.registry.AckGossip(v.Name, source.Name, v.Clock)
	}
}

// --- failure detection ---

func (w *Worker) runFailureDetection(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		targets := w.registry.Find(1, cluster.ALL, nil)
		if len(targets) == 0 {
			continue
		}
		target := targets[0]
		go w.check(ctx, target)
	}
}

// check implements one direct-then-indirect probe cycle against target,
// per the SWIM ping / ping-req scheme.
func (w *Worker) check(ctx context.Context, target cluster.Member) {
	defer w.recoverLoop("check")
	start := time.Now()
	ch, cancel := w.addWaiting(target.Name)
	defer cancel()

	_ = w.tr.Send(ctx, target, packet.Ping{Src: w.localSource()})
	if w.metrics != nil {
		w.metrics.RecordPingSent()
	}
	online := w.wait(ctx, ch, w.cfg.PingTimeout)

	if !online {
		if w.metrics != nil {
			w.metrics.RecordPingTimedOut()
		}
		exclude := map[string]struct{}{target.Name: {}}
		helpers := w.registry.Find(w.cfg.PingReqCount, cluster.AVAILABLE, exclude)
		if len(helpers) > 0 {
			req := packet.PingReq{Src: w.localSource(), Target: target.Name}
			for _, helper := range helpers {
				_ = w.tr.Send(ctx, helper, req)
			}
			online = w.wait(ctx, ch, w.cfg.PingReqTimeout)
		}
	}

	newStatus := cluster.ONLINE
	if !online {
		newStatus = cluster.SUSPECT
	}
	w.registry.Update(target.Name, &newStatus, nil)
	if w.metrics != nil {
		w.metrics.ObserveProbeDuration(time.Since(start))
		w.metrics.RecordStatusChange(newStatus.String())
	}
}

// --- dissemination ---

func (w *Worker) runDissemination(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		w.updateGaugeMetrics()
		targets := w.registry.Find(1, cluster.AVAILABLE, nil)
		if len(targets) == 0 {
			continue
		}
		target := targets[0]
		go w.disseminate(ctx, target)
	}
}

// updateGaugeMetrics refreshes the point-in-time gauges that aren't
// naturally tied to a single packet or probe: per-status member counts
// and the number of active change-feed subscribers (the admin
// websocket and audit sink, typically).
func (w *Worker) updateGaugeMetrics() {
	if w.metrics == nil {
		return
	}
	for _, status := range [...]cluster.Status{cluster.ONLINE, cluster.SUSPECT, cluster.OFFLINE} {
		w.metrics.SetMembersInStatus(status.String(), len(w.registry.GetStatus(status)))
	}
	w.metrics.SetChangeSubscribers(w.registry.SubscriberCount())
}

func (w *Worker) disseminate(ctx context.Context, target cluster.Member) {
	defer w.recoverLoop("disseminate")
	pending := w.registry.GetGossip(target.Name)
	if w.metrics != nil {
		w.metrics.ObserveGossipBatch(len(pending))
	}
	for _, m := range pending {
		g := packet.Gossip{
			Src:      w.localSource(),
			Name:     m.Name,
			Clock:    m.Clock(),
			Status:   m.Status(),
			Metadata: m.MetadataValue(),
		}
		_ = w.tr.Send(ctx, target, g)
		if w.metrics != nil {
			w.metrics.RecordGossipSent()
		}
	}
}

// --- suspect timeout ---
//
// Each member that enters SUSPECT gets a one-shot timer of
// cfg.SuspectTimeout; any transition out of SUSPECT cancels the pending
// timer for that member, while a change that leaves it in SUSPECT with
// the same statusTime leaves the running timer alone. A periodic sweep
// would instead wait up to 2x the configured timeout for a member whose
// SUSPECT transition lands just after a tick fires.

func (w *Worker) runSuspectTimeout(ctx context.Context) {
	changes, cancel := w.registry.Changes(32)
	defer cancel()

	timers := make(map[string]*time.Timer)
	armed := make(map[string]time.Time)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-changes:
			if !ok {
				return
			}
			w.safeArmSuspectTimer(m, timers, armed)
		}
	}
}

// safeArmSuspectTimer runs armSuspectTimer with panic recovery, so one
// bad change event can't kill the whole suspect-timeout loop.
func (w *Worker) safeArmSuspectTimer(m cluster.Member, timers map[string]*time.Timer, armed map[string]time.Time) {
	defer w.recoverLoop("runSuspectTimeout")
	w.armSuspectTimer(m, timers, armed)
}

// armSuspectTimer starts or cancels the per-member suspect-timeout timer
// in response to one committed change, per the rule in runSuspectTimeout.
func (w *Worker) armSuspectTimer(m cluster.Member, timers map[string]*time.Timer, armed map[string]time.Time) {
	if m.Status() != cluster.SUSPECT {
		if t, ok := timers[m.Name]; ok {
			t.Stop()
			delete(timers, m.Name)
			delete(armed, m.Name)
		}
		return
	}

	if since, ok := armed[m.Name]; ok && since.Equal(m.StatusTime()) {
		// Already armed for this exact SUSPECT transition; a change
		// that left the member in SUSPECT (e.g. a metadata update)
		// must not restart the clock.
		return
	}

	if t, ok := timers[m.Name]; ok {
		t.Stop()
	}

	name := m.Name
	suspectSince := m.StatusTime()
	armed[name] = suspectSince
	timers[name] = time.AfterFunc(w.cfg.SuspectTimeout, func() {
		w.expireSuspect(name, suspectSince)
	})
}

// expireSuspect promotes name to OFFLINE if it is still SUSPECT at the
// same statusTime the timer was armed for; a transition out of SUSPECT
// (or back into a fresher SUSPECT) in the meantime makes this a no-op.
func (w *Worker) expireSuspect(name string, suspectSince time.Time) {
	defer w.recoverLoop("expireSuspect")
	current := w.registry.Get(name, nil)
	if current.Status() != cluster.SUSPECT || !current.StatusTime().Equal(suspectSince) {
		return
	}
	offline := cluster.OFFLINE
	w.registry.Update(name, &offline, nil)
	if w.metrics != nil {
		w.metrics.RecordStatusChange(offline.String())
	}
}
