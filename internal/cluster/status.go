// Package cluster implements the per-node membership registry: the
// sequence-clock and status model, the member set, and the gossip
// bookkeeping used to decide what each peer still needs to learn.
package cluster

import "fmt"

// Status is a cluster member's last-known availability, represented as a
// bit flag so that ONLINE/SUSPECT/OFFLINE can be combined into the
// query-only aggregates AVAILABLE, UNAVAILABLE, and ALL.
type Status uint8

const (
	// ONLINE means the member is responding as expected.
	ONLINE Status = 1 << iota
	// SUSPECT means the member has failed a direct and indirect probe but
	// has not yet been held unreachable for long enough to declare it dead.
	SUSPECT
	// OFFLINE means the member failed to respond long enough to rule out a
	// false positive.
	OFFLINE

	// AVAILABLE is the aggregate of statuses considered reachable. Query-only.
	AVAILABLE = ONLINE | SUSPECT
	// UNAVAILABLE is the aggregate of statuses considered unreachable. Query-only.
	UNAVAILABLE = OFFLINE | SUSPECT
	// ALL matches any real status. Query-only.
	ALL = AVAILABLE | UNAVAILABLE
)

func (s Status) String() string {
	switch s {
	case ONLINE:
		return "ONLINE"
	case SUSPECT:
		return "SUSPECT"
	case OFFLINE:
		return "OFFLINE"
	case AVAILABLE:
		return "AVAILABLE"
	case UNAVAILABLE:
		return "UNAVAILABLE"
	case ALL:
		return "ALL"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// isAggregate reports whether s is one of the query-only combined values.
func isAggregate(s Status) bool {
	return s == AVAILABLE || s == UNAVAILABLE || s == ALL
}

// Transition prevents impossible status jumps, returning the status that
// should actually be committed in place of to.
//
//   - OFFLINE -> SUSPECT stays OFFLINE.
//   - ONLINE -> OFFLINE instead becomes ONLINE -> SUSPECT.
//   - Any transition into an aggregate is a programmer error and panics.
func (s Status) Transition(to Status) Status {
	if isAggregate(to) {
		panic(fmt.Sprintf("cluster: cannot transition into aggregate status %s", to))
	}
	switch {
	case to == SUSPECT && s == OFFLINE:
		return OFFLINE
	case to == OFFLINE && s == ONLINE:
		return SUSPECT
	default:
		return to
	}
}
