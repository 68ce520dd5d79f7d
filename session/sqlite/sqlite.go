// Package sqlite implements core.SessionStore on a pure-Go SQLite database.
//
// Sessions live in one table with their JSON-encoded state; events in a
// second table keyed by (session_id, id) and ordered by rowid.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/logging"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Options configures a Store.
type Options struct {
	Logger logging.Logger
}

// Store is a core.SessionStore backed by SQLite.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

var _ core.SessionStore = (*Store)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (session_id, id)
	)`,
}

// New opens the database at path and creates the schema. Use ":memory:" for
// a throwaway database.
//
// All access goes through a single connection so concurrent writers never
// hit SQLITE_BUSY.
func New(ctx context.Context, path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: opts.Logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("session.sqlite.opened", "path", path)
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts the session unless it exists and returns its current form.
func (s *Store) Create(ctx context.Context, id string) (*core.Session, error) {
	now := time.Now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, state, created_at, updated_at) VALUES (?, '{}', ?, ?)
		 ON CONFLICT (id) DO NOTHING`, id, now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create session: %w", err)
	}
	return s.Get(ctx, id)
}

// Get loads a session with its full history.
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	var (
		rawState         string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&rawState, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session: %w", err)
	}

	sess := core.NewSession(id)
	if err := json.Unmarshal([]byte(rawState), &sess.State); err != nil {
		return nil, fmt.Errorf("sqlite: decode state: %w", err)
	}
	sess.Created = time.Unix(0, created).UTC()
	sess.Updated = time.Unix(0, updated).UTC()

	events, err := s.events(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Events = events
	return sess, nil
}

// Append stores ev at the end of the session history.
func (s *Store) Append(ctx context.Context, sessionID string, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sqlite: encode event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixNano()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO events (session_id, id, payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, id) DO NOTHING`, sessionID, ev.ID, string(payload), now)
	if err != nil {
		return fmt.Errorf("sqlite: insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: insert event: %w", err)
	}
	if n == 0 {
		return core.ErrDuplicateEvent
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	s.logger.Debug("session.sqlite.append", "session", sessionID, "event", ev.ID)
	return nil
}

// History returns the stored events in append order.
func (s *Store) History(ctx context.Context, sessionID string) ([]core.Event, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup session: %w", err)
	}
	return s.events(ctx, sessionID)
}

// ApplyDelta merges delta into the stored session state.
func (s *Store) ApplyDelta(ctx context.Context, sessionID string, delta map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rawState string
	err = tx.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, sessionID).Scan(&rawState)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: load state: %w", err)
	}

	state := map[string]any{}
	if err := json.Unmarshal([]byte(rawState), &state); err != nil {
		return fmt.Errorf("sqlite: decode state: %w", err)
	}
	for k, v := range delta {
		state[k] = v
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite: encode state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().UnixNano(), sessionID); err != nil {
		return fmt.Errorf("sqlite: update state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) events(ctx context.Context, sessionID string) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()

	events := []core.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("sqlite: decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
