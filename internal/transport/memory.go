package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruvnet/swimring/internal/cluster"
	"github.com/ruvnet/swimring/internal/packet"
)

// MemoryHub wires together any number of MemoryTransport instances within
// the same process, so that tests and local demos can exercise the
// worker loops without a real socket.
type MemoryHub struct {
	mu    sync.Mutex
	nodes map[string]chan packet.Packet
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{nodes: make(map[string]chan packet.Packet)}
}

func (h *MemoryHub) register(name string, inbox chan packet.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[name] = inbox
}

func (h *MemoryHub) unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, name)
}

func (h *MemoryHub) lookup(name string) chan packet.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodes[name]
}

// MemoryTransport implements Transport by handing packets directly to
// another MemoryTransport's inbox through a shared MemoryHub.
type MemoryTransport struct {
	hub   *MemoryHub
	name  string
	inbox chan packet.Packet
}

// NewMemoryTransport creates a transport for localName and registers it
// with hub. bufferSize bounds how many unconsumed inbound packets may
// queue; Send to a full inbox fails rather than blocking, matching the
// fire-and-forget contract.
func NewMemoryTransport(hub *MemoryHub, localName string, bufferSize int) *MemoryTransport {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	inbox := make(chan packet.Packet, bufferSize)
	hub.register(localName, inbox)
	return &MemoryTransport{hub: hub, name: localName, inbox: inbox}
}

func (t *MemoryTransport) Recv(ctx context.Context) (packet.Packet, error) {
	select {
	case p := <-t.inbox:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Send(ctx context.Context, member cluster.Member, p packet.Packet) error {
	inbox := t.hub.lookup(member.Name)
	if inbox == nil {
		return fmt.Errorf("transport: no registered member %q", member.Name)
	}
	select {
	case inbox <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("transport: inbox for %q is full", member.Name)
	}
}

func (t *MemoryTransport) Close() error {
	t.hub.unregister(t.name)
	return nil
}
