// Package gateway is the request-facing side of the agent: it composes
// prompts from session transcripts, runs a worker per turn and exposes the
// chat over HTTP and WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/memorialsite/agentgw/internal/bus"
	"github.com/memorialsite/agentgw/internal/session"
	"github.com/memorialsite/agentgw/internal/worker"
)

const (
	defaultMaxMessageBytes = 16 * 1024
	maxSessionIDLen        = 128
)

// ErrInvalidRequest is returned for malformed chat input. No worker is run.
var ErrInvalidRequest = errors.New("invalid request")

// Runner executes one agent turn.
type Runner interface {
	Run(ctx context.Context, prompt string) (worker.Outcome, error)
}

// Publisher receives one event per chat cycle.
type Publisher interface {
	Publish(ev *bus.TurnEvent)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Store  session.Store
	Runner Runner
	// Events is optional.
	Events Publisher
	// RecordErrorTurns appends a system turn describing failed runs.
	RecordErrorTurns bool
	MaxMessageBytes  int
}

// Service runs chat cycles. Turns of one session are serialized; different
// sessions run in parallel.
type Service struct {
	store        session.Store
	runner       Runner
	events       Publisher
	locks        *session.KeyedMutex
	recordErrors bool
	maxMessage   int
	newID        func() string
}

// NewService creates a Service.
func NewService(opts ServiceOptions) *Service {
	maxMessage := opts.MaxMessageBytes
	if maxMessage <= 0 {
		maxMessage = defaultMaxMessageBytes
	}
	// A message must fit in the worker prompt on its own.
	if maxMessage > worker.MaxPromptBytes {
		maxMessage = worker.MaxPromptBytes
	}
	return &Service{
		store:        opts.Store,
		runner:       opts.Runner,
		events:       opts.Events,
		locks:        session.NewKeyedMutex(),
		recordErrors: opts.RecordErrorTurns,
		maxMessage:   maxMessage,
		newID:        uuid.NewString,
	}
}

// Reply is the result of a chat cycle. SessionID is set even on failure.
type Reply struct {
	SessionID string
	TraceID   string
	Message   string
}

// Chat runs one cycle for sessionID, creating a session id when empty.
// On failure only the user turn stays in the transcript.
func (s *Service) Chat(ctx context.Context, transport, sessionID, message string) (Reply, error) {
	if err := s.validate(sessionID, message); err != nil {
		return Reply{SessionID: sessionID}, err
	}
	if sessionID == "" {
		sessionID = s.newID()
	}
	reply := Reply{SessionID: sessionID, TraceID: s.newID()}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return reply, fmt.Errorf("wait for session %s: %w", sessionID, err)
	}
	defer unlock()

	start := time.Now()
	ev := &bus.TurnEvent{
		TraceID:     reply.TraceID,
		SessionID:   sessionID,
		Transport:   transport,
		UserMessage: message,
	}

	sess, err := s.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return reply, s.fail(ev, start, fmt.Errorf("load session: %w", err))
	}
	prompt := ComposePrompt(sess.Turns, message, worker.MaxPromptBytes)

	if err := s.store.AppendTurn(ctx, sessionID, session.Turn{Role: session.RoleUser, Content: message}); err != nil {
		return reply, s.fail(ev, start, fmt.Errorf("append user turn: %w", err))
	}

	out, err := s.runner.Run(ctx, prompt)
	if err != nil {
		if s.recordErrors {
			turn := session.Turn{Role: session.RoleSystem, Content: "Agent error: " + err.Error()}
			if aerr := s.store.AppendTurn(context.WithoutCancel(ctx), sessionID, turn); aerr != nil {
				slog.Warn("Failed to record error turn", "session_id", sessionID, "error", aerr)
			}
		}
		return reply, s.fail(ev, start, err)
	}

	if err := s.store.AppendTurn(ctx, sessionID, session.Turn{Role: session.RoleAssistant, Content: out.Message}); err != nil {
		return reply, s.fail(ev, start, fmt.Errorf("append assistant turn: %w", err))
	}
	reply.Message = out.Message

	ev.Status = bus.StatusOK
	ev.Reply = out.Message
	ev.Duration = time.Since(start)
	s.publish(ev)
	slog.Info("Chat turn completed", "session_id", sessionID, "trace_id", reply.TraceID, "transport", transport, "duration", ev.Duration)
	return reply, nil
}

// ResetSession deletes a session. Unknown ids are not an error.
func (s *Service) ResetSession(ctx context.Context, sessionID string) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.Delete(ctx, sessionID)
}

func (s *Service) fail(ev *bus.TurnEvent, start time.Time, err error) error {
	ev.Status = bus.StatusFailed
	ev.ErrorText = err.Error()
	ev.Duration = time.Since(start)
	s.publish(ev)
	slog.Error("Chat turn failed", "session_id", ev.SessionID, "trace_id", ev.TraceID, "transport", ev.Transport, "error", err)
	return err
}

func (s *Service) publish(ev *bus.TurnEvent) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

func (s *Service) validate(sessionID, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if len(message) > s.maxMessage {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrInvalidRequest, s.maxMessage)
	}
	if len(sessionID) > maxSessionIDLen {
		return fmt.Errorf("%w: sessionId exceeds %d characters", ErrInvalidRequest, maxSessionIDLen)
	}
	for _, r := range sessionID {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: sessionId contains whitespace or control characters", ErrInvalidRequest)
		}
	}
	return nil
}
