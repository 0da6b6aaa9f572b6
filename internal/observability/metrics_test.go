package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewPedanticRegistry())
}

func TestRecordChunk(t *testing.T) {
	m := newTestMetrics()

	m.RecordChunk("content")
	m.RecordChunk("content")
	m.RecordChunk("done")

	expected := `
		# HELP aichat_chunks_total Total number of protocol chunks written by type
		# TYPE aichat_chunks_total counter
		aichat_chunks_total{type="content"} 2
		aichat_chunks_total{type="done"} 1
	`
	if err := testutil.CollectAndCompare(m.ChunkCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordApproval(t *testing.T) {
	m := newTestMetrics()

	m.RecordApproval(true)
	m.RecordApproval(false)
	m.RecordApproval(false)

	if got := testutil.ToFloat64(m.ApprovalCounter.WithLabelValues("approved")); got != 1 {
		t.Errorf("approved count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ApprovalCounter.WithLabelValues("denied")); got != 2 {
		t.Errorf("denied count = %v, want 2", got)
	}
}

func TestRecordTokensSkipsZeroes(t *testing.T) {
	m := newTestMetrics()

	m.RecordTokens("gpt-test", 100, 0)

	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("gpt-test", "prompt")); got != 100 {
		t.Errorf("prompt tokens = %v, want 100", got)
	}
	if count := testutil.CollectAndCount(m.TokensUsed); count != 1 {
		t.Errorf("label combinations = %d, want only the prompt series", count)
	}
}

func TestRecordStream(t *testing.T) {
	m := newTestMetrics()

	m.RecordStream("finished", 1.5)
	m.RecordStream("suspended", 30)
	m.RecordStream("finished", 0.2)

	if got := testutil.ToFloat64(m.StreamCounter.WithLabelValues("finished")); got != 2 {
		t.Errorf("finished streams = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StreamCounter.WithLabelValues("suspended")); got != 1 {
		t.Errorf("suspended streams = %v, want 1", got)
	}
}

func TestRecordExpired(t *testing.T) {
	m := newTestMetrics()

	m.RecordExpired("runs", 3)
	m.RecordExpired("artifacts", 0)

	if got := testutil.ToFloat64(m.ExpiredCounter.WithLabelValues("runs")); got != 3 {
		t.Errorf("expired runs = %v, want 3", got)
	}
	if count := testutil.CollectAndCount(m.ExpiredCounter); count != 1 {
		t.Errorf("label combinations = %d, want the runs series only", count)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m := newTestMetrics()

	m.ActiveStreams.Inc()
	m.ActiveStreams.Inc()
	m.ActiveStreams.Dec()

	if got := testutil.ToFloat64(m.ActiveStreams); got != 1 {
		t.Errorf("active streams = %v, want 1", got)
	}
}
