package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	connectAttemptsTotal prometheus.Counter
	reconnectsTotal      prometheus.Counter
	breakerTripsTotal    prometheus.Counter
	eventsReceivedTotal  *prometheus.CounterVec
	notificationsTotal   *prometheus.CounterVec
	sendRollbacksTotal   prometheus.Counter
	connectionUp         prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors for the realtime core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		connectAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petlink_connect_attempts_total",
			Help: "Total number of transport connection attempts.",
		})
		reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petlink_reconnects_total",
			Help: "Total number of automatic reconnects after a lost connection.",
		})
		breakerTripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petlink_breaker_trips_total",
			Help: "Total number of circuit-breaker engagements.",
		})
		eventsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "petlink_events_received_total",
			Help: "Server events received on the realtime channel.",
		}, []string{"event"})
		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "petlink_notifications_total",
			Help: "Notifications observed, by type.",
		}, []string{"type"})
		sendRollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petlink_send_rollbacks_total",
			Help: "Optimistic message sends rolled back after a rejected POST.",
		})
		connectionUp = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "petlink_connection_up",
			Help: "1 while the realtime channel is connected.",
		})

		prometheus.MustRegister(connectAttemptsTotal, reconnectsTotal,
			breakerTripsTotal, eventsReceivedTotal, notificationsTotal,
			sendRollbacksTotal, connectionUp)
	})
}

// ConnectAttempts exposes the connection attempt counter.
func ConnectAttempts() prometheus.Counter {
	RegisterMetrics()
	return connectAttemptsTotal
}

// Reconnects exposes the automatic reconnect counter.
func Reconnects() prometheus.Counter {
	RegisterMetrics()
	return reconnectsTotal
}

// BreakerTrips exposes the circuit-breaker counter.
func BreakerTrips() prometheus.Counter {
	RegisterMetrics()
	return breakerTripsTotal
}

// EventsReceived exposes the per-event counter.
func EventsReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsReceivedTotal
}

// Notifications exposes the per-type notification counter.
func Notifications() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

// SendRollbacks exposes the rollback counter.
func SendRollbacks() prometheus.Counter {
	RegisterMetrics()
	return sendRollbacksTotal
}

// ConnectionUp exposes the connection gauge.
func ConnectionUp() prometheus.Gauge {
	RegisterMetrics()
	return connectionUp
}
