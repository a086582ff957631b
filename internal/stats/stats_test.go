package stats

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exposition(t *testing.T, p *PromStats) string {
	t.Helper()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPromStats_GaugeLifecycle(t *testing.T) {
	p := NewPromStats()
	p.RegisterMetric("NumActiveConnections")

	p.Incr("NumActiveConnections")
	p.Incr("NumActiveConnections")
	p.Decr("NumActiveConnections")

	assert.Contains(t, exposition(t, p), "mt_realtime_NumActiveConnections 1")
}

func TestPromStats_Set(t *testing.T) {
	p := NewPromStats()
	p.RegisterMetric("NumActiveRooms")

	p.Set("NumActiveRooms", 5)

	assert.Contains(t, exposition(t, p), "mt_realtime_NumActiveRooms 5")
}

func TestPromStats_UnknownMetricIsNoop(t *testing.T) {
	p := NewPromStats()

	p.Incr("Nope")
	p.Decr("Nope")
	p.Set("Nope", 3)

	assert.NotContains(t, exposition(t, p), "Nope")
}

func TestPromStats_DoubleRegisterIsNoop(t *testing.T) {
	p := NewPromStats()

	p.RegisterMetric("NumEventsDispatched")
	p.RegisterMetric("NumEventsDispatched")

	p.Incr("NumEventsDispatched")
	assert.Contains(t, exposition(t, p), "mt_realtime_NumEventsDispatched 1")
}

func TestPromStats_IsolatedRegistries(t *testing.T) {
	a := NewPromStats()
	b := NewPromStats()

	a.RegisterMetric("NumMessagesDropped")
	b.RegisterMetric("NumMessagesDropped")
	a.Incr("NumMessagesDropped")

	assert.Contains(t, exposition(t, a), "mt_realtime_NumMessagesDropped 1")
	assert.Contains(t, exposition(t, b), "mt_realtime_NumMessagesDropped 0")
}
