package observability

import (
	"context"
	"sync"

	"github.com/marcus-qen/stagee/internal/store"
)

// bufferSize bounds the in-memory replay window (spec §4.6: "a bounded
// in-memory buffer supports replay for recent history"). The Store remains
// the durable record; this buffer only serves live/near-live streaming.
const bufferSize = 2048

// Bus fans out Store events to live subscribers and keeps a bounded ring
// buffer for replay, extended from the teacher's events/bus.go concept but
// backed by the Postgres events table instead of a CRD object.
type Bus struct {
	mu     sync.Mutex
	buffer []store.Event
	next   int
	filled bool
	subs   map[chan store.Event]subscription
}

type subscription struct {
	executionID string // empty = all executions
	kind        store.EventKind
}

// NewBus builds an empty event Bus.
func NewBus() *Bus {
	return &Bus{
		buffer: make([]store.Event, bufferSize),
		subs:   make(map[chan store.Event]subscription),
	}
}

// Publish appends ev to the ring buffer and delivers it to any subscriber
// whose filter matches. Delivery is non-blocking: a slow subscriber drops
// events rather than stalling the publisher (the Store remains authoritative,
// so a dropped stream update is recoverable via replay).
func (b *Bus) Publish(ev store.Event) {
	b.mu.Lock()
	b.buffer[b.next] = ev
	b.next = (b.next + 1) % bufferSize
	if b.next == 0 {
		b.filled = true
	}
	subs := make(map[chan store.Event]subscription, len(b.subs))
	for ch, sub := range b.subs {
		subs[ch] = sub
	}
	b.mu.Unlock()

	for ch, sub := range subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s subscription) matches(ev store.Event) bool {
	if s.executionID != "" && s.executionID != ev.ExecutionID {
		return false
	}
	if s.kind != "" && s.kind != ev.Kind {
		return false
	}
	return true
}

// Subscribe registers a new listener filtered by executionID and/or kind
// (either may be empty to mean "any"). Callers must call the returned cancel
// function to unregister and avoid leaking the channel.
func (b *Bus) Subscribe(executionID string, kind store.EventKind) (<-chan store.Event, func()) {
	ch := make(chan store.Event, 32)
	b.mu.Lock()
	b.subs[ch] = subscription{executionID: executionID, kind: kind}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Replay returns the buffered events for executionID in chronological order,
// for a subscriber that wants recent history before following the live feed.
func (b *Bus) Replay(executionID string) []store.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []store.Event
	if b.filled {
		ordered = append(ordered, b.buffer[b.next:]...)
	}
	ordered = append(ordered, b.buffer[:b.next]...)

	out := make([]store.Event, 0, len(ordered))
	for _, ev := range ordered {
		if ev.ID == "" {
			continue
		}
		if executionID == "" || ev.ExecutionID == executionID {
			out = append(out, ev)
		}
	}
	return out
}

// PublishFromStore is a convenience for callers that already called
// store.AppendEvent and want to fan the result out without duplicating the
// write.
func (b *Bus) PublishFromStore(_ context.Context, ev *store.Event) {
	if ev != nil {
		b.Publish(*ev)
	}
}
