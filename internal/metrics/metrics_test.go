package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRunFinishedCountsRows(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RunFinished("completed", time.Second, map[string]int{"created": 3, "failed": 0, "skipped": 2})
	m.RunFinished("failed", time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Rows.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rows.WithLabelValues("skipped")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Intake("new")
	m.RunFinished("completed", time.Second, map[string]int{"created": 1})
	m.Request(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Intake("duplicate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `catalogdrop_intakes_total{result="duplicate"} 1`))
}
