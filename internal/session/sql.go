package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers for SQLStore.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// SQLStore is a durable Store over database/sql. Sessions are keyed by the
// client-supplied id.
type SQLStore struct {
	db       *sql.DB
	driver   string
	maxTurns int
	now      func() time.Time
}

// OpenSQLStore opens dsn with driver and ensures the tables exist. For sqlite
// the dsn is a file path.
func OpenSQLStore(ctx context.Context, driver, dsn string, maxTurns int) (*SQLStore, error) {
	driver = strings.ToLower(driver)
	switch driver {
	case DriverSQLite:
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DriverMySQL, DriverPostgres:
	case "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported session driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	s := NewSQLStore(db, driver, maxTurns)
	if err := s.EnsureTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return s, nil
}

// NewSQLStore wraps an open database. Call EnsureTables before use.
func NewSQLStore(db *sql.DB, driver string, maxTurns int) *SQLStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &SQLStore{db: db, driver: driver, maxTurns: maxTurns, now: time.Now}
}

// EnsureTables creates the session tables if missing.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	var stmts []string
	switch s.driver {
	case DriverMySQL:
		stmts = []string{
			"CREATE TABLE IF NOT EXISTS `agent_session` (" +
				"`id` VARCHAR(128) NOT NULL PRIMARY KEY," +
				"`created_ts` BIGINT NOT NULL," +
				"`updated_ts` BIGINT NOT NULL)",
			"CREATE TABLE IF NOT EXISTS `agent_turn` (" +
				"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
				"`session_id` VARCHAR(128) NOT NULL," +
				"`role` VARCHAR(16) NOT NULL," +
				"`content` MEDIUMTEXT NOT NULL," +
				"`created_ts` BIGINT NOT NULL," +
				"INDEX `idx_agent_turn_session` (`session_id`, `id`))",
		}
	case DriverPostgres:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS agent_session (
				id         TEXT   PRIMARY KEY,
				created_ts BIGINT NOT NULL,
				updated_ts BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS agent_turn (
				id         BIGSERIAL PRIMARY KEY,
				session_id TEXT   NOT NULL,
				role       TEXT   NOT NULL,
				content    TEXT   NOT NULL,
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_agent_turn_session ON agent_turn(session_id, id)`,
		}
	default:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS agent_session (
				id         TEXT    PRIMARY KEY,
				created_ts INTEGER NOT NULL,
				updated_ts INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS agent_turn (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT    NOT NULL,
				role       TEXT    NOT NULL,
				content    TEXT    NOT NULL,
				created_ts INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_agent_turn_session ON agent_turn(session_id, id)`,
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) insertSessionStmt() string {
	switch s.driver {
	case DriverMySQL:
		return "INSERT IGNORE INTO agent_session (id, created_ts, updated_ts) VALUES (?, ?, ?)"
	default:
		return "INSERT INTO agent_session (id, created_ts, updated_ts) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING"
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) ensureSession(ctx context.Context, q execer, id string, now time.Time) error {
	ts := now.UnixMilli()
	_, err := q.ExecContext(ctx, s.rebind(s.insertSessionStmt()), id, ts, ts)
	return err
}

// GetOrCreate returns the session, creating an empty one if needed.
func (s *SQLStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if err := s.ensureSession(ctx, s.db, id, s.now()); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess := &Session{ID: id}
	var created, updated int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT created_ts, updated_ts FROM agent_session WHERE id = ?"), id).
		Scan(&created, &updated)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.LastActiveAt = time.UnixMilli(updated)
	turns, err := s.loadTurns(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	sess.Turns = turns
	return sess, nil
}

func (s *SQLStore) loadTurns(ctx context.Context, q execer, id string) ([]Turn, error) {
	rows, err := q.QueryContext(ctx, s.rebind("SELECT role, content, created_ts FROM agent_turn WHERE session_id = ? ORDER BY id ASC"), id)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()
	turns := []Turn{}
	for rows.Next() {
		var (
			t  Turn
			ts int64
		)
		if err := rows.Scan(&t.Role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurn inserts the turn and deletes turns beyond the threshold in one
// transaction.
func (s *SQLStore) AppendTurn(ctx context.Context, id string, turn Turn) (err error) {
	now := s.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.ensureSession(ctx, tx, id, now); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.rebind("INSERT INTO agent_turn (session_id, role, content, created_ts) VALUES (?, ?, ?, ?)"),
		id, string(turn.Role), turn.Content, turn.Timestamp.UnixMilli()); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.rebind("UPDATE agent_session SET updated_ts = ? WHERE id = ?"), now.UnixMilli(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	// The maxTurns-th newest id is the oldest one kept.
	var cutoff int64
	err = tx.QueryRowContext(ctx, s.rebind("SELECT id FROM agent_turn WHERE session_id = ? ORDER BY id DESC LIMIT 1 OFFSET ?"), id, s.maxTurns-1).
		Scan(&cutoff)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("find trim cutoff: %w", err)
	default:
		if _, err = tx.ExecContext(ctx, s.rebind("DELETE FROM agent_turn WHERE session_id = ? AND id < ?"), id, cutoff); err != nil {
			return fmt.Errorf("trim turns: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Delete removes the session and its turns.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM agent_turn WHERE session_id = ?"), id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM agent_session WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns sessions, most recently active first.
func (s *SQLStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.id, s.created_ts, s.updated_ts,
		(SELECT COUNT(*) FROM agent_turn t WHERE t.session_id = s.id)
		FROM agent_session s ORDER BY s.updated_ts DESC, s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	list := []Info{}
	for rows.Next() {
		var (
			info             Info
			created, updated int64
		)
		if err := rows.Scan(&info.ID, &created, &updated, &info.TurnCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.CreatedAt = time.UnixMilli(created)
		info.LastActiveAt = time.UnixMilli(updated)
		list = append(list, info)
	}
	return list, rows.Err()
}

// History returns the transcript of an existing session.
func (s *SQLStore) History(ctx context.Context, id string) ([]Turn, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT 1 FROM agent_session WHERE id = ?"), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return s.loadTurns(ctx, s.db, id)
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }
