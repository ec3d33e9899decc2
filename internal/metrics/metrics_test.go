package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterServesMetrics(t *testing.T) {
	GrabberEvents.WithLabelValues("connected").Inc()

	rr := httptest.NewRecorder()
	Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "observerd_grabber_events_total"), "metrics body missing grabber events")
	assert.True(t, strings.Contains(body, "observerd_dispatcher_tasks_total"), "metrics body missing dispatcher tasks")
}

func TestRouterHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestGrabberMessagesLabels(t *testing.T) {
	before := testutil.ToFloat64(GrabberMessages.WithLabelValues("input_source_changed", "dropped"))
	GrabberMessages.WithLabelValues("input_source_changed", "dropped").Inc()
	after := testutil.ToFloat64(GrabberMessages.WithLabelValues("input_source_changed", "dropped"))
	assert.Equal(t, before+1, after)
}
