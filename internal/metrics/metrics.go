package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync-layer collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	eventsApplied *prometheus.CounterVec
	staleDropped  *prometheus.CounterVec
	pollFetches   *prometheus.CounterVec
	reconnects    prometheus.Counter
	channelUp     prometheus.Gauge
	outboxDepth   prometheus.Gauge
	outboxReplays *prometheus.CounterVec
	notifications *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedsync_channel_events_applied_total",
			Help: "Channel events applied to the client state store.",
		}, []string{"event"}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedsync_stale_updates_dropped_total",
			Help: "Incoming records ignored because a newer version was already held.",
		}, []string{"collection"}),
		pollFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedsync_poll_fetches_total",
			Help: "Poller fetches by resource and result.",
		}, []string{"resource", "result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bedsync_channel_reconnects_total",
			Help: "Successful channel reconnects.",
		}),
		channelUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bedsync_channel_connected",
			Help: "1 when the event channel is connected.",
		}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bedsync_outbox_pending",
			Help: "Queued offline mutations awaiting replay.",
		}),
		outboxReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedsync_outbox_replays_total",
			Help: "Outbox replay attempts by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedsync_notifications_total",
			Help: "User notifications by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.eventsApplied, m.staleDropped, m.pollFetches, m.reconnects,
		m.channelUp, m.outboxDepth, m.outboxReplays, m.notifications,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry the collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(event string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(event).Inc()
}

func (m *Metrics) StaleDropped(collection string) {
	if m == nil {
		return
	}
	m.staleDropped.WithLabelValues(collection).Inc()
}

func (m *Metrics) PollFetch(resource string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.pollFetches.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) ChannelConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.channelUp.Set(1)
	} else {
		m.channelUp.Set(0)
	}
}

func (m *Metrics) OutboxDepth(n int) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(n))
}

func (m *Metrics) OutboxReplay(result string) {
	if m == nil {
		return
	}
	m.outboxReplays.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
