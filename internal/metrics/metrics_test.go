package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New("placebot")
	c.ObserveUpdate("text", "ok", 20*time.Millisecond)
	c.ObserveUpdate("text", "ok", 10*time.Millisecond)
	c.ObserveProvider("nearbysearch", "ok", time.Millisecond)
	c.ObserveTransition("browsing", "browsing")
	c.ObserveTransition("awaiting_radius", "browsing")
	c.ObserveDelivery("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Updates.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ProviderRequests.WithLabelValues("nearbysearch", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.Transitions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BroadcastDeliveries.WithLabelValues("sent")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveUpdate("x", "ok", time.Second)
		c.ObservePersistFailure()
		c.SetBreakerState("places", 2)
		c.ObserveBroadcast()
	})
	assert.Nil(t, c.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New("placebot")
	c.ObserveBroadcast()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "placebot_broadcasts_total 1")
}
