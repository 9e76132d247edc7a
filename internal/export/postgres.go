// Package export persists finished call transcripts.
//
// The call registry hands a [call.Record] to an exporter when a session is
// retired. [Store] writes it to PostgreSQL; [LogExporter] is the fallback
// when no DSN is configured and just logs a summary line per session.
package export

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicelinehq/voiceline/internal/call"
)

// Compile-time interface check.
var _ call.Exporter = (*Store)(nil)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    session_id  TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    turn_count  INT          NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS call_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES calls (session_id) ON DELETE CASCADE,
    position    INT          NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    provider    TEXT         NOT NULL DEFAULT '',
    service     TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    UNIQUE (session_id, position)
);

CREATE INDEX IF NOT EXISTS idx_call_turns_session_id
    ON call_turns (session_id);
`

// Migrate creates the transcript tables if they do not exist. Idempotent and
// safe to run on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCalls); err != nil {
		return fmt.Errorf("export migrate: %w", err)
	}
	return nil
}

// Store writes finished transcripts to PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("export store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("export store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("export store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ExportSession writes the call row and its turns in one transaction. Called
// again with the same session ID it replaces the stored transcript, so a
// retried export cannot duplicate turns.
func (s *Store) ExportSession(ctx context.Context, rec call.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("export store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertCall = `
		INSERT INTO calls (session_id, started_at, ended_at, turn_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET started_at = EXCLUDED.started_at,
		    ended_at   = EXCLUDED.ended_at,
		    turn_count = EXCLUDED.turn_count`
	if _, err := tx.Exec(ctx, upsertCall, rec.SessionID, rec.StartedAt, rec.EndedAt, len(rec.Turns)); err != nil {
		return fmt.Errorf("export store: write call: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM call_turns WHERE session_id = $1`, rec.SessionID); err != nil {
		return fmt.Errorf("export store: clear turns: %w", err)
	}

	const insertTurn = `
		INSERT INTO call_turns (session_id, position, role, text, provider, service, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	batch := &pgx.Batch{}
	for i, turn := range rec.Turns {
		batch.Queue(insertTurn, rec.SessionID, i, string(turn.Role), turn.Text, turn.Provider, turn.Service, turn.StartedAt, turn.EndedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("export store: write turns: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("export store: commit: %w", err)
	}
	return nil
}

// GetSession loads one stored transcript by session ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (call.Record, error) {
	rec := call.Record{SessionID: sessionID}

	const q = `SELECT started_at, ended_at FROM calls WHERE session_id = $1`
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&rec.StartedAt, &rec.EndedAt); err != nil {
		return call.Record{}, fmt.Errorf("export store: get session: %w", err)
	}

	const qTurns = `
		SELECT role, text, provider, service, started_at, ended_at
		FROM   call_turns
		WHERE  session_id = $1
		ORDER  BY position`
	rows, err := s.pool.Query(ctx, qTurns, sessionID)
	if err != nil {
		return call.Record{}, fmt.Errorf("export store: get turns: %w", err)
	}
	rec.Turns, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (call.Turn, error) {
		var (
			t    call.Turn
			role string
		)
		if err := row.Scan(&role, &t.Text, &t.Provider, &t.Service, &t.StartedAt, &t.EndedAt); err != nil {
			return call.Turn{}, err
		}
		t.Role = call.Role(role)
		return t, nil
	})
	if err != nil {
		return call.Record{}, fmt.Errorf("export store: collect turns: %w", err)
	}
	return rec, nil
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
