package timeline

import "time"

// Schema is applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS turn_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id     TEXT    NOT NULL UNIQUE,
	session_id   TEXT    NOT NULL,
	transport    TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	user_message TEXT    NOT NULL DEFAULT '',
	reply        TEXT    NOT NULL DEFAULT '',
	error_text   TEXT    NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	timestamp    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turn_events_session ON turn_events(session_id);
CREATE INDEX IF NOT EXISTS idx_turn_events_timestamp ON turn_events(timestamp);
`

// TimelineEvent is one recorded chat turn.
type TimelineEvent struct {
	ID          int64     `json:"id"`
	TraceID     string    `json:"trace_id"`
	SessionID   string    `json:"session_id"`
	Transport   string    `json:"transport"`
	Status      string    `json:"status"`
	UserMessage string    `json:"user_message"`
	Reply       string    `json:"reply,omitempty"`
	ErrorText   string    `json:"error_text,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// FilterArgs narrows GetEvents.
type FilterArgs struct {
	SessionID string
	Status    string
	Limit     int
	Offset    int
}
