// Package transport defines the seam between the cluster core and the
// wire: a small Recv/Send interface the worker depends on, plus the
// concrete backends (in-memory, UDP+TCP, NATS) that implement it.
package transport

import (
	"context"

	"github.com/ruvnet/swimring/internal/cluster"
	"github.com/ruvnet/swimring/internal/packet"
)

// Transport is the only thing the cluster core knows about the wire. It
// is responsible for framing, signing/verifying, fragmentation of
// oversized packets, and resolving a member name to an address.
// Implementations must never surface a decode or verification failure as
// an error from Recv: such packets are dropped silently.
type Transport interface {
	// Recv blocks until the next validated inbound packet is available,
	// or ctx is done.
	Recv(ctx context.Context) (packet.Packet, error)
	// Send is best-effort and fire-and-forget: a dropped or failed send
	// is not retried by the transport.
	Send(ctx context.Context, member cluster.Member, p packet.Packet) error
	// Close releases any sockets or connections held by the transport.
	Close() error
}

// AddressResolver maps a cluster member name to a dialable network
// address. Concrete transports that need one (UDP) take it as a
// constructor argument rather than assuming a naming convention.
type AddressResolver func(name string) (string, error)
