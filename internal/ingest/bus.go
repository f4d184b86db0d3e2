package ingest

import (
	"log"
	"sync"

	"teamlink/internal/models"
)

// Event announces one ingested message to subscribers (UI, coordinators).
type Event struct {
	ConversationID string
	Message        models.Message
	Source         string // transport the message arrived on
}

// Bus is the pipeline-owned event fan-out. Subscriptions are explicit
// channels with deterministic unsubscribe, replacing the global notification
// bus the app grew up with.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered event channel. The cancel func removes the
// subscription and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber. A subscriber that cannot
// keep up loses the event rather than stalling ingestion.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			log.Printf("event bus subscriber %d full, dropping event conversation=%s", id, event.ConversationID)
		}
	}
}
