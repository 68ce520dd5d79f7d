// Package postgres implements core.SessionStore on PostgreSQL.
//
// The Store accepts an externally owned *pgxpool.Pool. The caller creates and
// closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/logging"
)

// Options configures a Store.
type Options struct {
	Logger logging.Logger
	// TablePrefix is prepended to the table names. Defaults to "agenttree_".
	TablePrefix string
}

// Store is a core.SessionStore backed by PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	logger   logging.Logger
	sessions string
	events   string
}

var _ core.SessionStore = (*Store)(nil)

// New creates a Store using an existing pool. Call Init once before use.
func New(pool *pgxpool.Pool, optFns ...func(o *Options)) *Store {
	opts := Options{Logger: logging.NoOpLogger{}, TablePrefix: "agenttree_"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{
		pool:     pool,
		logger:   opts.Logger,
		sessions: pgx.Identifier{opts.TablePrefix + "sessions"}.Sanitize(),
		events:   pgx.Identifier{opts.TablePrefix + "events"}.Sanitize(),
	}
}

// Init creates the tables when missing.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			state JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.sessions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, id)
		)`, s.events, s.sessions),
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create table: %w", err)
		}
	}
	return nil
}

// Create inserts the session unless it exists and returns its current form.
func (s *Store) Create(ctx context.Context, id string) (*core.Session, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO NOTHING`, s.sessions), id, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: create session: %w", err)
	}
	return s.Get(ctx, id)
}

// Get loads a session with its full history.
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	var rawState []byte
	sess := core.NewSession(id)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT state, created_at, updated_at FROM %s WHERE id = $1`, s.sessions), id).
		Scan(&rawState, &sess.Created, &sess.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session: %w", err)
	}
	if err := json.Unmarshal(rawState, &sess.State); err != nil {
		return nil, fmt.Errorf("postgres: decode state: %w", err)
	}

	events, err := s.loadEvents(ctx, id)
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
		return fmt.Errorf("postgres: encode event: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET updated_at = $1 WHERE id = $2`, s.sessions), now, sessionID)
	if err != nil {
		return fmt.Errorf("postgres: touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}

	tag, err = tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (session_id, id, payload, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, id) DO NOTHING`, s.events), sessionID, ev.ID, payload, now)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrDuplicateEvent
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	s.logger.Debug("session.postgres.append", "session", sessionID, "event", ev.ID)
	return nil
}

// History returns the stored events in append order.
func (s *Store) History(ctx context.Context, sessionID string) ([]core.Event, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.sessions), sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup session: %w", err)
	}
	if !exists {
		return nil, core.ErrSessionNotFound
	}
	return s.loadEvents(ctx, sessionID)
}

// ApplyDelta merges delta into the stored state in a single statement.
func (s *Store) ApplyDelta(ctx context.Context, sessionID string, delta map[string]any) error {
	encoded, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("postgres: encode delta: %w", err)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET state = state || $1::jsonb, updated_at = $2 WHERE id = $3`, s.sessions),
		encoded, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("postgres: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *Store) loadEvents(ctx context.Context, sessionID string) ([]core.Event, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT payload FROM %s WHERE session_id = $1 ORDER BY seq`, s.events), sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	events := []core.Event{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev core.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
