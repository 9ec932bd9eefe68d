package cluster

import (
	"sync"

	"go.uber.org/zap"
)

// ChangeBus publishes committed member changes to any number of
// subscribers. Publish never blocks on a subscriber: a full subscriber
// buffer causes that notification to be dropped for that subscriber only,
// matching the registry's "never blocks on a subscriber" contract.
type ChangeBus struct {
	mu     sync.Mutex
	subs   map[int]chan Member
	next   int
	logger *zap.Logger
}

// NewChangeBus creates an empty bus. logger may be nil, in which case
// dropped notifications are not logged.
func NewChangeBus(logger *zap.Logger) *ChangeBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeBus{subs: make(map[int]chan Member), logger: logger}
}

// Subscribe registers a new channel that receives every future committed
// change until cancel is called. bufferSize bounds how many unconsumed
// notifications may queue before new ones are dropped for this subscriber.
func (b *ChangeBus) Subscribe(bufferSize int) (ch <-chan Member, cancel func()) {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	b.mu.Lock()
	id := b.next
	b.next++
	c := make(chan Member, bufferSize)
	b.subs[id] = c
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

// SubscribeFunc is a convenience wrapper that runs handler in its own
// goroutine for every notification until cancel is called.
func (b *ChangeBus) SubscribeFunc(bufferSize int, handler func(Member)) (cancel func()) {
	ch, cancel := b.Subscribe(bufferSize)
	go func() {
		for m := range ch {
			handler(m)
		}
	}()
	return cancel
}

// Count returns the current number of active subscribers.
func (b *ChangeBus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers m to every current subscriber, dropping it for any
// subscriber whose buffer is currently full.
func (b *ChangeBus) Publish(m Member) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.subs {
		select {
		case c <- m:
		default:
			b.logger.Debug("dropping change notification for slow subscriber",
				zap.Int("subscription", id), zap.String("member", m.Name))
		}
	}
}
