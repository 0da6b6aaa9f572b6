package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

const createRunStoreTableSQL = `
CREATE TABLE IF NOT EXISTS run_store (
    run_id text PRIMARY KEY,
    model text,
    messages jsonb,
    pending jsonb,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
)`

const upsertMessagesSQL = `
INSERT INTO run_store (run_id, model, messages, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, NOW(), NOW())
ON CONFLICT (run_id) DO UPDATE SET
    model = COALESCE(EXCLUDED.model, run_store.model),
    messages = EXCLUDED.messages,
    updated_at = NOW()
RETURNING model, messages, pending, updated_at`

const upsertPendingSQL = `
INSERT INTO run_store (run_id, model, messages, pending, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, NOW(), NOW())
ON CONFLICT (run_id) DO UPDATE SET
    model = COALESCE(EXCLUDED.model, run_store.model),
    pending = EXCLUDED.pending,
    updated_at = NOW()
RETURNING model, messages, pending, updated_at`

const selectRunSQL = `
SELECT model, messages, pending, updated_at
FROM run_store
WHERE run_id = $1`

const deleteRunSQL = `DELETE FROM run_store WHERE run_id = $1`

const cleanupExpiredSQL = `
DELETE FROM run_store
WHERE updated_at <= NOW() - ($1 * INTERVAL '1 minute')`

// PostgresStore is a Store backed by a run_store table.
//
// Expiry is enforced twice: bulk deletes before each write, and a per-row
// check on read so a stale row is never returned between sweeps.
type PostgresStore struct {
	db      *sql.DB
	ttlMin  *int
	maxMsgs int
	nowFunc func() time.Time
}

// NewPostgresStore creates a Postgres-backed run store and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, db *sql.DB, opts Options) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("runstore: db is required")
	}
	s := &PostgresStore{
		db:      db,
		ttlMin:  opts.TTLMinutes,
		maxMsgs: opts.MaxMessages,
		nowFunc: time.Now,
	}
	if _, err := db.ExecContext(ctx, createRunStoreTableSQL); err != nil {
		return nil, fmt.Errorf("runstore: ensure schema: %w", err)
	}
	return s, nil
}

// SetNowFunc sets a custom time source for tests.
func (s *PostgresStore) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

// Get returns the current state for a run, or nil when absent or expired.
func (s *PostgresStore) Get(ctx context.Context, runID string) (*models.RunState, error) {
	row := s.db.QueryRowContext(ctx, selectRunSQL, runID)
	state, err := s.scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.isExpired(state.LastUpdated) {
		if _, err := s.db.ExecContext(ctx, deleteRunSQL, runID); err != nil {
			return nil, fmt.Errorf("runstore: delete expired run: %w", err)
		}
		return nil, nil
	}
	return state, nil
}

// SetMessages saves message history for a run.
func (s *PostgresStore) SetMessages(ctx context.Context, runID string, messages []models.Message, model string) (*models.RunState, error) {
	if _, err := s.CleanupExpired(ctx); err != nil {
		return nil, err
	}
	trimmed := capMessages(messages, s.maxMsgs)
	payload, err := marshalMessages(trimmed)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, upsertMessagesSQL, runID, model, payload)
	return s.scanState(row)
}

// SetPending saves pending deferred tool requests for a run.
func (s *PostgresStore) SetPending(ctx context.Context, runID string, pending []models.PendingCall, model string) (*models.RunState, error) {
	if _, err := s.CleanupExpired(ctx); err != nil {
		return nil, err
	}
	messages, err := marshalMessages(nil)
	if err != nil {
		return nil, err
	}
	var pendingPayload any
	if pending != nil {
		encoded, err := json.Marshal(pending)
		if err != nil {
			return nil, fmt.Errorf("runstore: marshal pending: %w", err)
		}
		pendingPayload = encoded
	}
	row := s.db.QueryRowContext(ctx, upsertPendingSQL, runID, model, messages, pendingPayload)
	return s.scanState(row)
}

// Clear removes all state for a run. Idempotent on missing keys.
func (s *PostgresStore) Clear(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, deleteRunSQL, runID); err != nil {
		return fmt.Errorf("runstore: clear run: %w", err)
	}
	return nil
}

// CleanupExpired removes expired runs and returns the count removed.
func (s *PostgresStore) CleanupExpired(ctx context.Context) (int, error) {
	if s.ttlMin == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, cleanupExpiredSQL, *s.ttlMin)
	if err != nil {
		return 0, fmt.Errorf("runstore: cleanup expired: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *PostgresStore) isExpired(updatedAt time.Time) bool {
	if s.ttlMin == nil || updatedAt.IsZero() {
		return false
	}
	ttl := time.Duration(*s.ttlMin) * time.Minute
	return s.nowFunc().Sub(updatedAt) >= ttl
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanState(row rowScanner) (*models.RunState, error) {
	var (
		model     sql.NullString
		messages  []byte
		pending   []byte
		updatedAt time.Time
	)
	if err := row.Scan(&model, &messages, &pending, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("runstore: scan run state: %w", err)
	}

	state := &models.RunState{Model: model.String, LastUpdated: updatedAt}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &state.Messages); err != nil {
			return nil, fmt.Errorf("runstore: decode messages: %w", err)
		}
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &state.Pending); err != nil {
			return nil, fmt.Errorf("runstore: decode pending: %w", err)
		}
	}
	return state, nil
}

func marshalMessages(messages []models.Message) ([]byte, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("runstore: marshal messages: %w", err)
	}
	return payload, nil
}
