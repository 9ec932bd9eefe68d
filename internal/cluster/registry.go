package cluster

import (
	cryptorand "crypto/rand"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry owns the local member, every non-local member ever referenced
// during this process's lifetime, and a WeakShuffle index per real status
// for O(1) random peer selection. All mutation is serialized behind a
// single lock; reads take the read side of the same lock and return
// snapshots, so callers never observe a partially-applied change.
type Registry struct {
	mu        sync.RWMutex
	local     *Member
	nonLocal  map[string]*Member
	byStatus  map[Status]*WeakShuffle
	nextClock uint64
	changeBus *ChangeBus
	logger    *zap.Logger
}

// NewRegistry creates a registry for localName with the given initial
// metadata and bootstrap peer names. The local member is created ONLINE
// at clock 1; each peer name is created OFFLINE with UNKNOWN metadata at
// clock 0, per the member lifecycle in spec §3.
func NewRegistry(localName string, localMetadata Metadata, peers []string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		nonLocal: make(map[string]*Member),
		byStatus: map[Status]*WeakShuffle{
			ONLINE:  NewWeakShuffle(),
			SUSPECT: NewWeakShuffle(),
			OFFLINE: NewWeakShuffle(),
		},
		nextClock: 1,
		changeBus: NewChangeBus(logger),
		logger:    logger,
	}
	r.local = newLocalMember(localName, nil, randomValidity())
	for _, peer := range peers {
		r.getLocked(peer, nil)
	}
	online := ONLINE
	r.commit(r.local, nil, r.nextClock, &online, localMetadata.Clone(), false)
	return r
}

func randomValidity() Validity {
	var v Validity
	_, _ = cryptorand.Read(v[:])
	return v
}

// Changes returns a channel of every future committed member change.
func (r *Registry) Changes(bufferSize int) (ch <-chan Member, cancel func()) {
	return r.changeBus.Subscribe(bufferSize)
}

// SubscriberCount returns the current number of active Changes subscribers.
func (r *Registry) SubscriberCount() int {
	return r.changeBus.Count()
}

// Local returns a snapshot of the local member.
func (r *Registry) Local() Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local.snapshot()
}

// LocalName returns the local member's name without taking a snapshot.
func (r *Registry) LocalName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local.Name
}

// NonLocal returns a snapshot of every known peer.
func (r *Registry) NonLocal() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.nonLocal))
	for _, m := range r.nonLocal {
		out = append(out, m.snapshot())
	}
	return out
}

// Get fetches (creating if necessary) the member with the given name. If
// validity is non-nil and differs from a pre-existing non-local member's
// stored validity, that member's knownClocks are cleared (the peer
// restarted) and the new validity is stored, per spec §4.2.
func (r *Registry) Get(name string, validity *Validity) Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(name, validity).snapshot()
}

func (r *Registry) getLocked(name string, validity *Validity) *Member {
	if name == r.local.Name {
		return r.local
	}
	m, ok := r.nonLocal[name]
	if !ok {
		m = newNonLocalMember(name)
		r.nonLocal[name] = m
		r.byStatus[m.status].Add(m)
	}
	if validity != nil && m.validity != *validity {
		m.knownClocks = make(map[string]uint64)
		m.validity = *validity
	}
	return m
}

// membersInStatus returns the raw (non-snapshot) members matching status,
// which may be a real status or one of the query-only aggregates.
func (r *Registry) membersInStatus(status Status) []*Member {
	if !isAggregate(status) {
		shuffle := r.byStatus[status]
		if shuffle == nil {
			return nil
		}
		return shuffle.Snapshot()
	}
	seen := make(map[string]struct{})
	var out []*Member
	for _, s := range [...]Status{ONLINE, SUSPECT, OFFLINE} {
		if status&s == 0 {
			continue
		}
		for _, m := range r.byStatus[s].Snapshot() {
			if _, dup := seen[m.Name]; dup {
				continue
			}
			seen[m.Name] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// Find returns up to count non-local members matching status (a real
// status or a query-only aggregate), excluding any member present in
// exclude, chosen uniformly at random without replacement. The matching
// pool is copied and filtered before sampling, so the cost is linear in
// the number of members in status, not O(count).
func (r *Registry) Find(count int, status Status, exclude map[string]struct{}) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool := r.membersInStatus(status)
	candidates := pool[:0:0]
	for _, m := range pool {
		if exclude != nil {
			if _, skip := exclude[m.Name]; skip {
				continue
			}
		}
		candidates = append(candidates, m)
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	for i := 0; i < count; i++ {
		j := i + rand.IntN(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	out := make([]Member, count)
	for i := 0; i < count; i++ {
		out[i] = candidates[i].snapshot()
	}
	return out
}

// GetStatus returns every non-local member currently in the given real or
// aggregate status.
func (r *Registry) GetStatus(status Status) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool := r.membersInStatus(status)
	out := make([]Member, len(pool))
	for i, m := range pool {
		out[i] = m.snapshot()
	}
	return out
}

func (r *Registry) refreshStatuses(m *Member) {
	if m.Local {
		return
	}
	for _, s := range [...]Status{ONLINE, SUSPECT, OFFLINE} {
		if m.status&s != 0 {
			r.byStatus[s].Add(m)
		} else {
			r.byStatus[s].Discard(m)
		}
	}
}

// Update applies a local-origin change: it assigns the next sequence
// clock and commits immediately. Either newStatus or newMetadata may be
// nil to leave that attribute unchanged.
func (r *Registry) Update(name string, newStatus *Status, newMetadata Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.getLocked(name, nil)
	r.commit(m, nil, r.nextClock, newStatus, newMetadata.Clone(), false)
}

// Apply applies a remote-origin change disseminated by sourceName about
// member name, asserting that it held status (+ metadata, if known) at
// clock. A nil metadata means the gossip carried the `none` sentinel and
// leaves metadata unchanged.
func (r *Registry) Apply(name string, sourceName string, clock uint64, status Status, metadata Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.getLocked(name, nil)
	r.commit(m, &sourceName, clock, &status, metadata, true)
}

// commit is the single apply/update rule described in spec §4.1:
//
//   - A remote assertion about the local member is always ignored for
//     content; local state ownership never leaves the local node (see
//     DESIGN.md for the Open Question this resolves).
//   - A remote assertion with clock <= M.clock that did not originate
//     from M itself is a stale or duplicate replay and is dropped.
//   - Otherwise the status (through the transition lattice) and metadata
//     (iff different) are staged; if either actually changed, they are
//     committed together with the new clock, the status indexes are
//     refreshed, a change notification is published, and nextClock is
//     bumped past the committed clock if needed.
func (r *Registry) commit(m *Member, source *string, clock uint64, status *Status, metadata Metadata, isRemote bool) {
	if isRemote && m.Local {
		return
	}
	fromSelf := source != nil && *source == m.Name
	if isRemote && clock <= m.clock && !fromSelf {
		return
	}

	var pendingStatus *Status
	if status != nil {
		transitioned := m.status.Transition(*status)
		if transitioned != m.status {
			pendingStatus = &transitioned
		}
	}
	var pendingMetadata Metadata
	if metadata != nil && !metadata.equal(m.metadata) {
		pendingMetadata = metadata
	}

	if pendingStatus == nil && pendingMetadata == nil {
		return
	}

	if pendingStatus != nil {
		m.status = *pendingStatus
		m.statusTime = time.Now()
	}
	if pendingMetadata != nil {
		m.metadata = pendingMetadata
	}
	m.clock = clock
	r.refreshStatuses(m)
	r.changeBus.Publish(m.snapshot())

	if m.clock >= r.nextClock {
		r.nextClock = m.clock + 1
	}
}

// GetGossip yields every member whose state targetName does not yet have:
// the local member whenever target hasn't acked its current clock, plus
// every non-local member with known metadata in the same position.
func (r *Registry) GetGossip(targetName string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.nonLocal[targetName]
	if !ok {
		if targetName != r.local.Name {
			return nil
		}
		target = r.local
	}

	var out []Member
	if target.needsGossip(r.local.Name, r.local.clock) {
		out = append(out, r.local.snapshot())
	}
	for _, m := range r.nonLocal {
		if m.metadata.Known() && target.needsGossip(m.Name, m.clock) {
			out = append(out, m.snapshot())
		}
	}
	return out
}

// AckGossip records that source has received state about member up to
// clock, preventing that state from being re-gossiped to source until it
// changes again.
func (r *Registry) AckGossip(memberName, sourceName string, clock uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	source := r.getLocked(sourceName, nil)
	if source.knownClocks == nil {
		source.knownClocks = make(map[string]uint64)
	}
	source.knownClocks[memberName] = clock
}
