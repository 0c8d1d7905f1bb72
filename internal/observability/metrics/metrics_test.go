package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

func TestRecordSessionEnd(t *testing.T) {
	m := newTestMetrics()

	m.RecordSessionStart()
	m.RecordSessionStart()
	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Errorf("expected 2 active sessions, got %v", got)
	}

	m.RecordSessionEnd("", 3)
	m.RecordSessionEnd("connection", 1)

	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Errorf("expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsWithTranscript); got != 1 {
		t.Errorf("expected 1 transcribed session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsEmpty.WithLabelValues("connection")); got != 1 {
		t.Errorf("expected 1 empty session, got %v", got)
	}
}

func TestRecordCommit(t *testing.T) {
	m := newTestMetrics()
	m.RecordCommit(true)
	m.RecordCommit(false)
	m.RecordCommit(false)

	if got := testutil.ToFloat64(m.CommitsSent); got != 1 {
		t.Errorf("expected 1 commit sent, got %v", got)
	}
	if got := testutil.ToFloat64(m.CommitsSkipped); got != 2 {
		t.Errorf("expected 2 commits skipped, got %v", got)
	}
}

func TestRecordPadding(t *testing.T) {
	m := newTestMetrics()
	m.RecordPadding(2240)

	if got := testutil.ToFloat64(m.PaddingBytes); got != 2240 {
		t.Errorf("expected 2240 padding bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.PaddingApplied); got != 1 {
		t.Errorf("expected 1 padding, got %v", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := newTestMetrics()
	m.RecordKafkaPublish("t", "transcript", nil, 0.01)
	m.RecordKafkaPublish("t", "transcript", errors.New("boom"), 0.01)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("t", "transcript")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("t", "transcript")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}
