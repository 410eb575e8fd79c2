package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the booking engine metrics. A nil *Collectors is valid
// and records nothing, which keeps tests free of registry plumbing.
type Collectors struct {
	bookings           *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	slotQueryDuration  prometheus.Histogram
	reminderClaims     prometheus.Counter
	reminderDeliveries *prometheus.CounterVec
	deliveryDuration   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_requests_total",
				Help: "Appointment creation attempts by outcome",
			},
			[]string{"result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appointment_transitions_total",
				Help: "Appointment state transitions by target state",
			},
			[]string{"to"},
		),
		slotQueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slot_query_duration_seconds",
				Help:    "Time spent computing available slots",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		reminderClaims: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reminder_claims_total",
				Help: "Reminders claimed by dispatchers",
			},
		),
		reminderDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_deliveries_total",
				Help: "Reminder delivery attempts by outcome",
			},
			[]string{"result"},
		),
		deliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reminder_delivery_duration_seconds",
				Help:    "Duration of calls to the messaging channel",
				Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
		),
	}

	reg.MustRegister(
		c.bookings,
		c.transitions,
		c.slotQueryDuration,
		c.reminderClaims,
		c.reminderDeliveries,
		c.deliveryDuration,
	)
	return c
}

func (c *Collectors) Booking(result string) {
	if c == nil {
		return
	}
	c.bookings.WithLabelValues(result).Inc()
}

func (c *Collectors) Transition(to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(to).Inc()
}

func (c *Collectors) SlotQuery(d time.Duration) {
	if c == nil {
		return
	}
	c.slotQueryDuration.Observe(d.Seconds())
}

func (c *Collectors) ReminderClaims(n int) {
	if c == nil {
		return
	}
	c.reminderClaims.Add(float64(n))
}

func (c *Collectors) Delivery(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.reminderDeliveries.WithLabelValues(result).Inc()
	c.deliveryDuration.Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
