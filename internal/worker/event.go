// Package worker runs one isolated agent subprocess per chat turn and folds
// its framed output into a single reply.
package worker

import (
	"encoding/json"
	"io"
	"sync"
)

// Event types written by the worker, one JSON object per stdout line.
const (
	EventAssistant = "assistant"
	EventResult    = "result"
	EventError     = "error"
)

// Event is one framed record on the worker's stdout.
//
//	{"type":"assistant","text":"..."}
//	{"type":"result","success":true,"message":"..."}
//	{"type":"error","message":"..."}
type Event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// EventWriter writes framed events. Safe for concurrent use.
type EventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEventWriter frames events onto w.
func NewEventWriter(w io.Writer) *EventWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &EventWriter{enc: enc}
}

// Emit writes ev as a single line.
func (w *EventWriter) Emit(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(ev)
}

// Assistant emits a partial assistant text.
func (w *EventWriter) Assistant(text string) error {
	return w.Emit(Event{Type: EventAssistant, Text: text})
}

// Result emits the final answer.
func (w *EventWriter) Result(message string) error {
	return w.Emit(Event{Type: EventResult, Success: true, Message: message})
}

// Error emits a failure.
func (w *EventWriter) Error(message string) error {
	return w.Emit(Event{Type: EventError, Message: message})
}
