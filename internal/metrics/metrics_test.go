package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposeInstruments(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ItemsProcessed.WithLabelValues("completed").Inc()
	m.ItemsProcessed.WithLabelValues("completed").Inc()
	m.BatchTransitions.WithLabelValues("running").Inc()
	m.ActiveLoops.Set(2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.ItemsProcessed.WithLabelValues("completed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ActiveLoops), 0)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	body, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `regionqueue_items_processed_total{status="completed"} 2`)
	assert.Contains(t, string(body), `regionqueue_batch_transitions_total{to="running"} 1`)
}

func TestNewNopDoesNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
