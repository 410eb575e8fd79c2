package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestCollectors_NilSafe(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.Booking("created")
		c.Transition("cancelled")
		c.SlotQuery(time.Millisecond)
		c.ReminderClaims(3)
		c.Delivery("sent", time.Second)
	})
}

func TestHandler_ExposesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.Booking("conflict")
	c.Delivery("failed", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(body, `booking_requests_total{result="conflict"} 1`))
	assert.True(t, strings.Contains(body, `reminder_deliveries_total{result="failed"} 1`))
}
