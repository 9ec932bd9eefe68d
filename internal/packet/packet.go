// Package packet defines the wire-level message types exchanged between
// cluster members, represented as a closed sum type rather than an open
// interface hierarchy: dispatchers are expected to switch on Kind rather
// than perform any dynamic dispatch.
package packet

import "github.com/ruvnet/swimring/internal/cluster"

// Kind identifies which of the five packet variants an envelope carries.
type Kind uint8

const (
	KindPing Kind = iota
	KindPingReq
	KindAck
	KindGossip
	KindGossipAck
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindPingReq:
		return "PingReq"
	case KindAck:
		return "Ack"
	case KindGossip:
		return "Gossip"
	case KindGossipAck:
		return "GossipAck"
	default:
		return "Unknown"
	}
}

// Source identifies the cluster member that originated a packet. Validity
// lets the recipient detect that a previously-known peer has restarted.
type Source struct {
	Name     string
	Validity cluster.Validity
}

// Packet is implemented by every wire message. Kind reports which
// concrete variant a value is, so callers can switch without a type
// assertion.
type Packet interface {
	Kind() Kind
	from() Source
}

// Ping asks its recipient to reply with an Ack; it carries no payload
// beyond its source.
type Ping struct {
	Src Source
}

func (Ping) Kind() Kind      { return KindPing }
func (p Ping) from() Source  { return p.Src }

// PingReq asks its recipient to ping Target on behalf of Src, and to
// relay any resulting Ack back to Src.
type PingReq struct {
	Src    Source
	Target string
}

func (PingReq) Kind() Kind     { return KindPingReq }
func (p PingReq) from() Source { return p.Src }

// Ack indicates that Src is online. It is sent directly in response to a
// Ping, or relayed by an indirect-ping helper.
type Ack struct {
	Src Source
}

func (Ack) Kind() Kind      { return KindAck }
func (p Ack) from() Source  { return p.Src }

// Gossip asserts that cluster member Name held Status (and, if known,
// Metadata) as of Clock. A nil Metadata means the sender does not itself
// know Name's metadata (the UNKNOWN sentinel), not that it is empty.
type Gossip struct {
	Src      Source
	Name     string
	Clock    uint64
	Status   cluster.Status
	Metadata cluster.Metadata
}

func (Gossip) Kind() Kind     { return KindGossip }
func (p Gossip) from() Source { return p.Src }

// GossipAck confirms receipt of a Gossip about Name up to Clock.
type GossipAck struct {
	Src   Source
	Name  string
	Clock uint64
}

func (GossipAck) Kind() Kind     { return KindGossipAck }
func (p GossipAck) from() Source { return p.Src }

// SourceOf returns the originating member of any packet variant.
func SourceOf(p Packet) Source { return p.from() }
