package cluster

import (
	"fmt"
	"time"
)

// Metadata is a cluster member's opaque key/value attributes. A nil
// Metadata is the distinguished UNKNOWN sentinel for a non-local member
// whose state has not yet been learned; it is distinct from a non-nil,
// empty Metadata{}, which means "known to have no attributes."
type Metadata map[string][]byte

// Known reports whether m is anything other than the UNKNOWN sentinel.
func (m Metadata) Known() bool { return m != nil }

// Clone returns a defensive copy, or nil if m is UNKNOWN.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func (m Metadata) equal(other Metadata) bool {
	if (m == nil) != (other == nil) {
		return false
	}
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || string(ov) != string(v) {
			return false
		}
	}
	return true
}

// Validity is 8 random bytes generated at process startup and reissued on
// restart; members use it to detect that a peer has restarted and that
// assumptions about what it has already seen (knownClocks) are stale.
type Validity [8]byte

// Member is a single participant in the cluster, identified by a unique
// name. All mutable fields are only ever written while the owning
// Registry's lock is held; values handed back to callers are copies, so
// reads never race with the registry's single writer.
type Member struct {
	Name  string
	Local bool

	clock      uint64
	validity   Validity
	status     Status
	statusTime time.Time
	metadata   Metadata

	// knownClocks, populated only for non-local members, records the
	// highest clock this member is known (by gossip ack) to have received
	// for each other member, keyed by that other member's name.
	knownClocks map[string]uint64
}

func newLocalMember(name string, metadata Metadata, validity Validity) *Member {
	return &Member{
		Name:       name,
		Local:      true,
		clock:      0,
		validity:   validity,
		status:     ONLINE,
		statusTime: time.Now(),
		metadata:   metadata,
	}
}

func newNonLocalMember(name string) *Member {
	return &Member{
		Name:        name,
		Local:       false,
		clock:       0,
		status:      OFFLINE,
		statusTime:  time.Now(),
		metadata:    nil, // UNKNOWN
		knownClocks: make(map[string]uint64),
	}
}

// Clock returns the sequence clock at which this member's state was last
// committed.
func (m *Member) Clock() uint64 { return m.clock }

// Status returns the member's last committed status.
func (m *Member) Status() Status { return m.status }

// StatusTime returns the local wall-clock time of the last status change.
func (m *Member) StatusTime() time.Time { return m.statusTime }

// MetadataValue returns the member's last committed metadata, or nil
// (UNKNOWN) if it has not yet been learned.
func (m *Member) MetadataValue() Metadata { return m.metadata }

// Validity returns the member's restart-detection token.
func (m *Member) Validity() Validity { return m.validity }

func (m *Member) String() string {
	return fmt.Sprintf("Member<%s %s clock=%d>", m.Name, m.status, m.clock)
}

// snapshot returns an immutable copy safe to hand to callers outside the
// registry's lock.
func (m *Member) snapshot() Member {
	cp := *m
	cp.metadata = m.metadata.Clone()
	cp.knownClocks = nil
	return cp
}

// needsGossip reports whether this member (typically a known peer) has
// not yet acknowledged clock for the given subject member.
func (m *Member) needsGossip(subjectName string, subjectClock uint64) bool {
	known, ok := m.knownClocks[subjectName]
	if !ok {
		// Never acknowledged anything about this subject: any clock,
		// including 0, still qualifies as news.
		return true
	}
	return subjectClock > known
}
