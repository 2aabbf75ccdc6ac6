package realtime

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker fans events out inside one process.
type MemoryBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]memorySub
}

type memorySub struct {
	filter Filter
	ch     chan Event
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[int]memorySub{}}
}

func (b *MemoryBroker) Publish(_ context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.filter.Match(evt) {
			deliver(sub.ch, evt)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = memorySub{filter: filter, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
