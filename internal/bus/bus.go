// Package bus fans out chat turn events to audit and notification sinks.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Turn statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Transports a turn can arrive on.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportCLI       = "cli"
)

// TurnEvent describes one completed chat cycle.
type TurnEvent struct {
	TraceID     string        `json:"trace_id"`
	SessionID   string        `json:"session_id"`
	Transport   string        `json:"transport"`
	Status      string        `json:"status"`
	UserMessage string        `json:"user_message"`
	Reply       string        `json:"reply,omitempty"`
	ErrorText   string        `json:"error_text,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Failed reports whether the turn failed.
func (e *TurnEvent) Failed() bool { return e.Status == StatusFailed }

// MessageBus decouples the chat path from slow sinks. Publishing never blocks;
// events are dropped when the buffer is full.
type MessageBus struct {
	events  chan *TurnEvent
	subs    []subscriber
	dropped int
	mu      sync.RWMutex
}

type subscriber struct {
	name string
	fn   func(*TurnEvent)
}

// NewMessageBus creates a bus with the given buffer size.
func NewMessageBus(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = 100
	}
	return &MessageBus{events: make(chan *TurnEvent, buffer)}
}

// Publish queues an event for dispatch.
func (b *MessageBus) Publish(ev *TurnEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.events <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		slog.Warn("Turn event dropped, bus full", "trace_id", ev.TraceID)
	}
}

// Subscribe registers a named callback. Register before Dispatch starts.
func (b *MessageBus) Subscribe(name string, fn func(*TurnEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{name: name, fn: fn})
}

// Dispatch delivers events to subscribers until ctx is done, then drains what
// is already queued. Run it as a goroutine.
func (b *MessageBus) Dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.events:
					b.deliver(ev)
				default:
					return ctx.Err()
				}
			}
		case ev := <-b.events:
			b.deliver(ev)
		}
	}
}

func (b *MessageBus) deliver(ev *TurnEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Turn event subscriber panicked", "subscriber", s.name, "panic", r)
				}
			}()
			s.fn(ev)
		}()
	}
}

// Pending returns the number of queued events.
func (b *MessageBus) Pending() int { return len(b.events) }

// Dropped returns how many events were discarded.
func (b *MessageBus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
