package continuation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestWaitReceivesPushedPayload(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	wg.Add(1)
	var got Payload
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = hub.Wait(context.Background(), "run-1", 2*time.Second)
	}()

	// Push after a short delay so the consumer is already waiting.
	time.Sleep(10 * time.Millisecond)
	hub.Push("run-1", Payload{Approvals: map[string]json.RawMessage{
		"call-1": json.RawMessage("true"),
	}})
	wg.Wait()

	if !ok {
		t.Fatal("Wait() ok = false, want payload delivered")
	}
	if string(got.Approvals["call-1"]) != "true" {
		t.Fatalf("Wait() approvals = %v", got.Approvals)
	}
}

func TestWaitDeliversPayloadPushedBeforeWait(t *testing.T) {
	hub := NewHub()
	hub.Push("run-1", Payload{ToolResults: map[string]json.RawMessage{
		"call-1": json.RawMessage(`{"rows":[]}`),
	}})

	got, ok := hub.Wait(context.Background(), "run-1", time.Second)
	if !ok {
		t.Fatal("Wait() ok = false, want buffered payload")
	}
	if _, present := got.ToolResults["call-1"]; !present {
		t.Fatalf("Wait() tool results = %v", got.ToolResults)
	}
}

func TestWaitTimesOut(t *testing.T) {
	hub := NewHub()
	start := time.Now()
	_, ok := hub.Wait(context.Background(), "run-1", 20*time.Millisecond)
	if ok {
		t.Fatal("Wait() ok = true, want timeout")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Wait() returned after %v, want at least the timeout", elapsed)
	}
}

func TestWaitDiscardsEmptyPayloads(t *testing.T) {
	hub := NewHub()
	hub.Push("run-1", Payload{})
	hub.Push("run-1", Payload{Approvals: map[string]json.RawMessage{
		"call-1": json.RawMessage("false"),
	}})

	got, ok := hub.Wait(context.Background(), "run-1", time.Second)
	if !ok {
		t.Fatal("Wait() ok = false, want the non-empty payload")
	}
	if len(got.Approvals) != 1 {
		t.Fatalf("Wait() approvals = %v, want the non-empty payload", got.Approvals)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, ok := hub.Wait(ctx, "run-1", 5*time.Second)
	if ok {
		t.Fatal("Wait() ok = true, want cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Wait() returned after %v, want prompt cancellation", elapsed)
	}
}

func TestMailboxesAreIsolatedPerRun(t *testing.T) {
	hub := NewHub()
	hub.Push("run-a", Payload{Approvals: map[string]json.RawMessage{
		"call-1": json.RawMessage("true"),
	}})

	if _, ok := hub.Wait(context.Background(), "run-b", 20*time.Millisecond); ok {
		t.Fatal("Wait(run-b) received run-a's payload")
	}
	if _, ok := hub.Wait(context.Background(), "run-a", time.Second); !ok {
		t.Fatal("Wait(run-a) ok = false, want its own payload")
	}
}

func TestClearDropsBufferedPayloads(t *testing.T) {
	hub := NewHub()
	hub.Push("run-1", Payload{Approvals: map[string]json.RawMessage{
		"call-1": json.RawMessage("true"),
	}})
	hub.Clear("run-1")

	if _, ok := hub.Wait(context.Background(), "run-1", 20*time.Millisecond); ok {
		t.Fatal("Wait() received a payload after Clear")
	}
	// Clearing an unknown run is a no-op.
	hub.Clear("run-unknown")
}
