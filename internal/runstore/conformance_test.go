package runstore

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// runConformance exercises the Store contract shared by every backend.
func runConformance(t *testing.T, newStore func(t *testing.T, opts Options) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get absent returns nil", func(t *testing.T) {
		store := newStore(t, Options{})
		state, err := store.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if state != nil {
			t.Fatalf("expected nil state, got %+v", state)
		}
	})

	t.Run("set messages then get", func(t *testing.T) {
		store := newStore(t, Options{})
		messages := []models.Message{models.NewUserMessage("hello")}
		if _, err := store.SetMessages(ctx, "run-1", messages, "gpt-test"); err != nil {
			t.Fatalf("SetMessages() error = %v", err)
		}
		state, err := store.Get(ctx, "run-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if state == nil || len(state.Messages) != 1 {
			t.Fatalf("expected one stored message, got %+v", state)
		}
		if state.Model != "gpt-test" {
			t.Fatalf("expected model to persist, got %q", state.Model)
		}
	})

	t.Run("empty model preserves prior value", func(t *testing.T) {
		store := newStore(t, Options{})
		if _, err := store.SetMessages(ctx, "run-1", nil, "gpt-test"); err != nil {
			t.Fatalf("SetMessages() error = %v", err)
		}
		state, err := store.SetMessages(ctx, "run-1", []models.Message{models.NewUserMessage("hi")}, "")
		if err != nil {
			t.Fatalf("SetMessages() error = %v", err)
		}
		if state.Model != "gpt-test" {
			t.Fatalf("expected model preserved, got %q", state.Model)
		}
	})

	t.Run("pending replaced wholesale", func(t *testing.T) {
		store := newStore(t, Options{})
		pending := []models.PendingCall{{ToolCallID: "call-1", ToolName: "execute_sql", RequiresApproval: true}}
		if _, err := store.SetPending(ctx, "run-1", pending, "gpt-test"); err != nil {
			t.Fatalf("SetPending() error = %v", err)
		}
		state, err := store.SetPending(ctx, "run-1", nil, "")
		if err != nil {
			t.Fatalf("SetPending() error = %v", err)
		}
		if len(state.Pending) != 0 {
			t.Fatalf("expected pending cleared, got %+v", state.Pending)
		}
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		store := newStore(t, Options{})
		if err := store.Clear(ctx, "never-existed"); err != nil {
			t.Fatalf("Clear() on absent run error = %v", err)
		}
		if _, err := store.SetMessages(ctx, "run-1", nil, ""); err != nil {
			t.Fatalf("SetMessages() error = %v", err)
		}
		if err := store.Clear(ctx, "run-1"); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if err := store.Clear(ctx, "run-1"); err != nil {
			t.Fatalf("second Clear() error = %v", err)
		}
		state, err := store.Get(ctx, "run-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if state != nil {
			t.Fatalf("expected cleared run to be absent, got %+v", state)
		}
	})

	t.Run("no ttl means no expiry", func(t *testing.T) {
		store := newStore(t, Options{})
		count, err := store.CleanupExpired(ctx)
		if err != nil {
			t.Fatalf("CleanupExpired() error = %v", err)
		}
		if count != 0 {
			t.Fatalf("expected no removals without TTL, got %d", count)
		}
	})

	t.Run("zero ttl expires immediately", func(t *testing.T) {
		store := newStore(t, Options{TTLMinutes: TTLMinutes(0)})
		if _, err := store.SetMessages(ctx, "run-1", []models.Message{models.NewUserMessage("hi")}, ""); err != nil {
			t.Fatalf("SetMessages() error = %v", err)
		}
		state, err := store.Get(ctx, "run-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if state != nil {
			t.Fatalf("expected expired run to be absent, got %+v", state)
		}
	})

	t.Run("message cap drops oldest", func(t *testing.T) {
		store := newStore(t, Options{MaxMessages: 2})
		messages := []models.Message{
			models.NewUserMessage("one"),
			models.NewAssistantMessage("two"),
			models.NewUserMessage("three"),
		}
		state, err := store.SetMessages(ctx, "run-1", messages, "")
		if err != nil {
			t.Fatalf("SetMessages() error = %v", err)
		}
		if len(state.Messages) != 2 {
			t.Fatalf("expected capped history, got %d messages", len(state.Messages))
		}
		if state.Messages[0].Parts[0].Text != "two" {
			t.Fatalf("expected oldest entry dropped, got %+v", state.Messages[0])
		}
	})
}

func TestMemoryStoreConformance(t *testing.T) {
	runConformance(t, func(t *testing.T, opts Options) Store {
		return NewMemoryStore(opts)
	})
}

// TestPostgresStoreConformance runs the shared suite against a real
// database when RUN_STORE_TEST_DSN is set.
func TestPostgresStoreConformance(t *testing.T) {
	dsn := os.Getenv("RUN_STORE_TEST_DSN")
	if dsn == "" {
		t.Skip("RUN_STORE_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	runConformance(t, func(t *testing.T, opts Options) Store {
		if _, err := db.Exec("DELETE FROM run_store"); err != nil {
			t.Logf("reset run_store: %v", err)
		}
		store, err := NewPostgresStore(context.Background(), db, opts)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		return store
	})
}
