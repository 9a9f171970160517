package teamsync

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of one Session. A nil *Metrics
// records nothing.
type Metrics struct {
	reg *prometheus.Registry

	events     *prometheus.CounterVec
	misses     *prometheus.CounterVec
	emits      *prometheus.CounterVec
	reconnects prometheus.Counter
	pullErrors *prometheus.CounterVec
	unread     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_events_total",
			Help: "Events applied to the synchronized state.",
		}, []string{"event"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_merge_misses_total",
			Help: "Events that matched nothing in the loaded state.",
		}, []string{"event"}),
		emits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_emits_total",
			Help: "Events written to the push channel.",
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamsync_reconnects_total",
			Help: "Push-channel reconnect attempts.",
		}),
		pullErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_pull_errors_total",
			Help: "Failed REST pulls.",
		}, []string{"query"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamsync_unread_total",
			Help: "Sum of unread counters over channels and conversations.",
		}),
	}
	m.reg.MustRegister(m.events, m.misses, m.emits, m.reconnects, m.pullErrors, m.unread)
	return m
}

// Registry returns the registry to expose, e.g. via promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) observe(event string, applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.events.WithLabelValues(event).Inc()
		return
	}
	m.misses.WithLabelValues(event).Inc()
}

func (m *Metrics) emitted(event string) {
	if m == nil || event == "" {
		return
	}
	m.emits.WithLabelValues(event).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) pullFailed(query string) {
	if m == nil {
		return
	}
	m.pullErrors.WithLabelValues(query).Inc()
}

func (m *Metrics) setUnread(n int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(n))
}
