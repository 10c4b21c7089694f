package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")

	m.RecordSubmitted("release")
	m.RecordSubmitted("release")
	m.RecordOutcome("release", "confirmed", 2*time.Second)
	m.RecordSwap("ASSET_TO_TOKEN", "success")
	m.RecordError("BUSY")
	m.RecordError("")
	m.RecordRPC("getSlot", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsSubmitted.WithLabelValues("release")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationOutcomes.WithLabelValues("release", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Swaps.WithLabelValues("ASSET_TO_TOKEN", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("BUSY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("getSlot")))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics("dup")
	b := NewMetrics("dup")

	a.SessionOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ActiveSessions))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ActiveSessions))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordSubmitted("x")
	m.RecordOutcome("x", "failed", 0)
	m.RecordSwap("x", "y")
	m.SessionOpened()
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("handler")
	m.RecordFunding("funded")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "handler_escrow_vault_fundings_total"))
}
