// Package metrics exposes Prometheus counters for the suspension scheduler.
// A nil *Metrics is valid and records nothing, so components can take it optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Pauses       prometheus.Counter
	Resumes      prometheus.Counter
	Canceled     prometheus.Counter
	SignalErrors *prometheus.CounterVec
	Reloads      *prometheus.CounterVec
	Rules        prometheus.Gauge
	Enabled      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates metrics registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Pauses: factory.NewCounter(prometheus.CounterOpts{
			Name: "appfreeze_pause_signals_total",
			Help: "Pause signals delivered to processes",
		}),
		Resumes: factory.NewCounter(prometheus.CounterOpts{
			Name: "appfreeze_resume_signals_total",
			Help: "Resume signals delivered to processes",
		}),
		Canceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "appfreeze_pending_canceled_total",
			Help: "Pending suspends canceled by reactivation",
		}),
		SignalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appfreeze_signal_errors_total",
			Help: "Signal deliveries that failed (usually because the process exited)",
		}, []string{"op"}),
		Reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appfreeze_config_reloads_total",
			Help: "Rule reloads by result",
		}, []string{"result"}),
		Rules: factory.NewGauge(prometheus.GaugeOpts{
			Name: "appfreeze_rules",
			Help: "Rules in the active rule set",
		}),
		Enabled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "appfreeze_enabled",
			Help: "1 when suspension is enabled",
		}),
	}
}

// RegisterPending exposes the pending-action count, read at scrape time.
func (m *Metrics) RegisterPending(fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "appfreeze_pending_actions",
		Help: "Armed suspend actions",
	}, fn))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncPause() {
	if m != nil {
		m.Pauses.Inc()
	}
}

func (m *Metrics) IncResume() {
	if m != nil {
		m.Resumes.Inc()
	}
}

func (m *Metrics) IncCanceled() {
	if m != nil {
		m.Canceled.Inc()
	}
}

func (m *Metrics) IncSignalError(op string) {
	if m != nil {
		m.SignalErrors.WithLabelValues(op).Inc()
	}
}

// ObserveReload counts a reload and, on success, records the new rule count.
func (m *Metrics) ObserveReload(ruleCount int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Reloads.WithLabelValues("error").Inc()
		return
	}
	m.Reloads.WithLabelValues("ok").Inc()
	m.Rules.Set(float64(ruleCount))
}

func (m *Metrics) SetEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.Enabled.Set(1)
	} else {
		m.Enabled.Set(0)
	}
}
