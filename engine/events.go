package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AditthyaSS/Flux/types"
)

// Bus is the in-process event stream. Every state transition, progress
// update, and decision flows through here; subscribers include the CLI
// progress printer, the API layer, and terminal-event adapters.
//
// Publish never blocks: a subscriber whose buffer is full loses the
// event. Consumers needing a lossless view read task state directly
// instead of reconstructing it from the stream.
type Bus struct {
	seq atomic.Int64

	mu   sync.Mutex
	subs map[int]chan types.EventEnvelope
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan types.EventEnvelope)}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns the receive channel plus an unsubscribe function. The
// channel is closed on unsubscribe.
func (b *Bus) Subscribe(buffer int) (<-chan types.EventEnvelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.EventEnvelope, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish stamps the envelope (event id, sequence, timestamp) and
// fans it out to all subscribers without blocking.
func (b *Bus) Publish(taskID string, typ types.EventType, payload any) types.EventEnvelope {
	ev := types.EventEnvelope{
		EventID: uuid.NewString(),
		TaskID:  taskID,
		Seq:     b.seq.Add(1),
		Type:    typ,
		Ts:      time.Now().UTC(),
		Payload: payload,
	}

	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop rather than stall the transfer path.
		}
	}
	b.mu.Unlock()
	return ev
}
