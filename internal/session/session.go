// Package session keeps chat transcripts keyed by session id.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxTurns is the transcript trim threshold.
const DefaultMaxTurns = 20

var (
	// ErrNotFound is returned by Lister.History for unknown sessions.
	ErrNotFound = errors.New("session not found")
	// ErrNotDurable is returned when a listing is requested from a store that
	// does not implement Lister.
	ErrNotDurable = errors.New("session store is not durable")
)

// Role of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks audit turns such as recorded failures. They are never
	// sent back to the agent.
	RoleSystem Role = "system"
)

// Turn is one message in a transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a snapshot of one conversation.
type Session struct {
	ID           string    `json:"sessionId"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Info summarizes a session for listings.
type Info struct {
	ID           string    `json:"sessionId"`
	TurnCount    int       `json:"turnCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Store maps session ids to transcripts. Implementations are safe for
// concurrent use. GetOrCreate returns a copy; mutating it has no effect.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	// AppendTurn creates the session if needed and trims the oldest turns
	// beyond the threshold.
	AppendTurn(ctx context.Context, id string, turn Turn) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Lister is implemented by durable stores.
type Lister interface {
	List(ctx context.Context) ([]Info, error)
	History(ctx context.Context, id string) ([]Turn, error)
}

// AsLister returns the store's Lister or ErrNotDurable.
func AsLister(s Store) (Lister, error) {
	if l, ok := s.(Lister); ok {
		return l, nil
	}
	return nil, ErrNotDurable
}

func trimTurns(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	out := make([]Turn, max)
	copy(out, turns[len(turns)-max:])
	return out
}
