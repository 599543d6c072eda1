// Package metrics holds Prometheus collectors for one checker run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"config-checker/internal/model"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	LinesRead        prometheus.Counter
	LinesMalformed   prometheus.Counter
	LinesDuplicate   prometheus.Counter
	ProbeResults     *prometheus.CounterVec
	ProbeDuration    *prometheus.HistogramVec
	VerifyResults    *prometheus.CounterVec
	VerifiedLatency  *prometheus.HistogramVec
	PhaseDurationSec *prometheus.GaugeVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "config_checker"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Total number of descriptor lines read from all sources",
		}),
		LinesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "malformed_total",
			Help:      "Lines rejected by the parser",
		}),
		LinesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_total",
			Help:      "Lines dropped as duplicates of an earlier candidate",
		}),
		ProbeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "results_total",
			Help:      "Reachability probe results by protocol and result",
		}, []string{"protocol", "result"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Duration of passing reachability probes",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"protocol"}),
		VerifyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "results_total",
			Help:      "Functional validation results by protocol and result",
		}, []string{"protocol", "result"}),
		VerifiedLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "latency_seconds",
			Help:      "Latency of verified candidates",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10},
		}, []string{"protocol"}),
		PhaseDurationSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of each pipeline phase in the last run",
		}, []string{"phase"}),
	}

	m.registry.MustRegister(
		m.LinesRead, m.LinesMalformed, m.LinesDuplicate,
		m.ProbeResults, m.ProbeDuration,
		m.VerifyResults, m.VerifiedLatency,
		m.PhaseDurationSec,
	)
	return m
}

// Registry exposes the collectors, e.g. for tests or an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveIngest(lines, malformed, duplicates int) {
	if m == nil {
		return
	}
	m.LinesRead.Add(float64(lines))
	m.LinesMalformed.Add(float64(malformed))
	m.LinesDuplicate.Add(float64(duplicates))
}

func (m *Metrics) ObserveProbe(t model.ProxyType, ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.ProbeResults.WithLabelValues(string(t), result(ok)).Inc()
	if ok {
		m.ProbeDuration.WithLabelValues(string(t)).Observe(seconds)
	}
}

func (m *Metrics) ObserveVerify(o model.Outcome) {
	if m == nil {
		return
	}
	t := string(o.Candidate.Type())
	m.VerifyResults.WithLabelValues(t, result(o.OK)).Inc()
	if o.OK {
		m.VerifiedLatency.WithLabelValues(t).Observe(o.Latency.Seconds())
	}
}

func (m *Metrics) ObservePhase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.PhaseDurationSec.WithLabelValues(phase).Set(seconds)
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func result(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}
