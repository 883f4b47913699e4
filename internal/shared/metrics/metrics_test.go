package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/api/v1/routes/evt-123", "/api/v1/routes/{id}"},
		{"/api/v1/escalations/evt-123/resolve", "/api/v1/escalations/{id}"},
		{"/api/v1/routes", "/api/v1/routes"},
		{"/health", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizePath(tt.path))
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(escalationsFired.WithLabelValues("2"))
	RecordEscalationFired(2)
	assert.Equal(t, before+1, testutil.ToFloat64(escalationsFired.WithLabelValues("2")))

	before = testutil.ToFloat64(deliveryAttempts.WithLabelValues("sms", "failure"))
	RecordDeliveryAttempt("sms", false)
	assert.Equal(t, before+1, testutil.ToFloat64(deliveryAttempts.WithLabelValues("sms", "failure")))

	RecordTick(5 * time.Millisecond)
}

func TestMiddlewareCapturesStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "418")))
}
