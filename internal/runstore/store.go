// Package runstore persists run state (message history and pending deferred
// tool calls) across the HTTP requests of a single run.
package runstore

import (
	"context"

	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// Store is the run state persistence contract.
//
// Get returns nil for an absent or expired run rather than an error, so
// callers can treat "no history" uniformly. SetMessages and SetPending
// upsert: an absent key synthesizes an empty state first. Expiry is checked
// opportunistically on every access; there is no background sweeper, and the
// only guarantee is that no result is ever returned for an expired run.
type Store interface {
	Get(ctx context.Context, runID string) (*models.RunState, error)

	// SetMessages replaces the run's history, trimming to the newest
	// configured maximum. The model name is updated only when non-empty.
	SetMessages(ctx context.Context, runID string, messages []models.Message, model string) (*models.RunState, error)

	// SetPending replaces the run's pending set wholesale; nil clears it.
	SetPending(ctx context.Context, runID string, pending []models.PendingCall, model string) (*models.RunState, error)

	// Clear removes all state for the run. Missing keys are a no-op.
	Clear(ctx context.Context, runID string) error

	// CleanupExpired removes every run older than the configured TTL and
	// returns the count removed. Without a TTL it always returns 0.
	CleanupExpired(ctx context.Context) (int, error)
}

// Options configure TTL and history capping for a store implementation.
//
// A nil TTLMinutes disables expiry entirely. Zero is a valid TTL and expires
// state on the very next access. A non-positive MaxMessages disables capping.
type Options struct {
	TTLMinutes  *int
	MaxMessages int
}

// TTLMinutes is a convenience for building Options literals.
func TTLMinutes(m int) *int { return &m }

func capMessages(messages []models.Message, max int) []models.Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}
