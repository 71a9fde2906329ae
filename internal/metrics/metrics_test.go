package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_DeadLetterCountsTransition(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")

	m.IncJobTransition("settlement", "completed")
	m.IncJobTransition("settlement", "failed")
	m.IncJobTransition("settlement", "failed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobTransitions.WithLabelValues("settlement", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobTransitions.WithLabelValues("settlement", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues("settlement")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")
	m.IncEvaluation("startup", "overdue")
	m.IncSettlementOutcome("settled")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_evaluations_total{state="overdue",trigger="startup"} 1`)
	assert.Contains(t, string(body), `test_settlement_outcomes_total{outcome="settled"} 1`)
}

func TestInitAndGet(t *testing.T) {
	prev := defaultMetrics
	defer func() { defaultMetrics = prev }()

	m := Init("")
	assert.Same(t, m, Get())
}
