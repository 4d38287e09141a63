package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterMetrics()
		RegisterMetrics()
	})
}

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(dispatches.WithLabelValues(OutcomeExhausted))
	RecordDispatch(OutcomeExhausted)
	RecordDispatch(OutcomeExhausted)
	assert.Equal(t, before+2, testutil.ToFloat64(dispatches.WithLabelValues(OutcomeExhausted)))
}

func TestRecordLinkCreated(t *testing.T) {
	before := testutil.ToFloat64(linksCreated.WithLabelValues("true"))
	RecordLinkCreated(true)
	assert.Equal(t, before+1, testutil.ToFloat64(linksCreated.WithLabelValues("true")))
}

func TestHandlerExposesCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	RecordDispatch(OutcomeServed)
	RecordUsageDropped()

	router := gin.New()
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `guest_urls_dispatch_requests_total{outcome="served"}`)
	assert.Contains(t, w.Body.String(), "guest_urls_usage_dropped_total")
}
