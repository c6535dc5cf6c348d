// Package timeline records chat turns in a local sqlite audit log.
package timeline

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/memorialsite/agentgw/internal/bus"
	_ "modernc.org/sqlite"
)

// maxTextChars bounds stored message bodies.
const maxTextChars = 10240

type TimelineService struct {
	db *sql.DB
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create timeline dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TimelineService{db: db}, nil
}

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// AddEvent stores evt. A repeated trace id is ignored.
func (s *TimelineService) AddEvent(evt *TimelineEvent) error {
	query := `
	INSERT OR IGNORE INTO turn_events (trace_id, session_id, transport, status, user_message, reply, error_text, duration_ms, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		evt.TraceID,
		evt.SessionID,
		evt.Transport,
		evt.Status,
		truncateStr(evt.UserMessage, maxTextChars),
		truncateStr(evt.Reply, maxTextChars),
		truncateStr(evt.ErrorText, maxTextChars),
		evt.DurationMs,
		evt.Timestamp.UTC(),
	)
	return err
}

// Record is a bus subscriber.
func (s *TimelineService) Record(ev *bus.TurnEvent) {
	err := s.AddEvent(&TimelineEvent{
		TraceID:     ev.TraceID,
		SessionID:   ev.SessionID,
		Transport:   ev.Transport,
		Status:      ev.Status,
		UserMessage: ev.UserMessage,
		Reply:       ev.Reply,
		ErrorText:   ev.ErrorText,
		DurationMs:  ev.Duration.Milliseconds(),
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		slog.Warn("Failed to record turn", "trace_id", ev.TraceID, "error", err)
	}
}

// GetEvents returns events newest first.
func (s *TimelineService) GetEvents(filter FilterArgs) ([]TimelineEvent, error) {
	query := `SELECT id, trace_id, session_id, transport, status, user_message, reply, error_text, duration_ms, timestamp FROM turn_events WHERE 1=1`
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []TimelineEvent{}
	for rows.Next() {
		var e TimelineEvent
		err := rows.Scan(
			&e.ID,
			&e.TraceID,
			&e.SessionID,
			&e.Transport,
			&e.Status,
			&e.UserMessage,
			&e.Reply,
			&e.ErrorText,
			&e.DurationMs,
			&e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Recent returns the latest limit events.
func (s *TimelineService) Recent(limit int) ([]TimelineEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.GetEvents(FilterArgs{Limit: limit})
}

// truncateStr returns s trimmed to maxLen bytes.
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
