package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Type identifies a sync lifecycle notification.
type Type string

const (
	TypeSyncScheduled Type = "sync_scheduled"
	TypeSyncStarted   Type = "sync_started"
	TypeSyncFinished  Type = "sync_finished"
	// TypeSyncUpdated fires on every scheduler state transition so
	// observers can refresh non-blocking status affordances.
	TypeSyncUpdated Type = "sync_updated"
)

// Outcome of a finished sync operation.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomeTerminalFailure  Outcome = "terminal_failure"
)

// Event carries the affected post/revision pair for observers.
type Event struct {
	Type       Type
	PostID     uint
	LocalID    string
	RevisionID uint
	Phase      string
	Outcome    Outcome
	Err        error
}

// Bus is a typed fan-out of lifecycle events. Subscribers get their own
// buffered channel; a full channel drops the event rather than blocking
// the scheduler.
type Bus struct {
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a listener. The returned cancel func removes the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			b.log.Warn().
				Str("event", string(ev.Type)).
				Uint("post_id", ev.PostID).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// Close shuts down all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
