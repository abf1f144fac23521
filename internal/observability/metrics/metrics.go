package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking core.
type BookingMetrics struct {
	bookingsTotal       *prometheus.CounterVec
	bookingRetries      prometheus.Counter
	availabilityLatency *prometheus.HistogramVec
	paymentEvents       *prometheus.CounterVec
	cancellations       *prometheus.CounterVec
	sweeps              *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curalink",
			Subsystem: "bookings",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"result"}),
		bookingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "curalink",
			Subsystem: "bookings",
			Name:      "tx_retries_total",
			Help:      "Booking transactions retried after a serialization failure",
		}),
		availabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "curalink",
			Subsystem: "availability",
			Name:      "query_seconds",
			Help:      "Latency of availability queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		paymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curalink",
			Subsystem: "payments",
			Name:      "provider_events_total",
			Help:      "Payment provider events applied to the state machine",
		}, []string{"event_type", "result"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curalink",
			Subsystem: "cancellation",
			Name:      "total",
			Help:      "Appointment cancellations by penalty percent",
		}, []string{"penalty_percent"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curalink",
			Subsystem: "bookings",
			Name:      "swept_total",
			Help:      "Appointments transitioned by the background sweeper",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingRetries, m.availabilityLatency, m.paymentEvents, m.cancellations, m.sweeps)
	return m
}

func (m *BookingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.bookingRetries.Inc()
}

func (m *BookingMetrics) ObserveAvailability(result string, seconds float64) {
	if m == nil {
		return
	}
	m.availabilityLatency.WithLabelValues(result).Observe(seconds)
}

func (m *BookingMetrics) ObservePaymentEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(eventType, result).Inc()
}

func (m *BookingMetrics) ObserveCancellation(penaltyPercent int) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(percentLabel(penaltyPercent)).Inc()
}

func (m *BookingMetrics) ObserveSweep(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweeps.WithLabelValues(status).Add(float64(count))
}

func percentLabel(p int) string {
	switch p {
	case 0:
		return "0"
	case 25:
		return "25"
	case 50:
		return "50"
	case 100:
		return "100"
	default:
		return "other"
	}
}
