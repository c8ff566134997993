package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes telemetry as Prometheus collectors on a private
// registry, so the scrape endpoint serves only our own series.
type Metrics struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	activeSubjects    prometheus.Gauge
	subjectCPU        *prometheus.GaugeVec
	subjectMemory     *prometheus.GaugeVec
	alertsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devstack",
				Name:      "executions_total",
				Help:      "Completed executions by language and status",
			},
			[]string{"language", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "devstack",
				Name:      "execution_duration_seconds",
				Help:      "Execution wall time",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"language"},
		),
		activeSubjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "devstack",
				Name:      "active_subjects",
				Help:      "Subjects currently being sampled",
			},
		),
		subjectCPU: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "devstack",
				Name:      "subject_cpu_percent",
				Help:      "Latest CPU sample per subject",
			},
			[]string{"subject"},
		),
		subjectMemory: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "devstack",
				Name:      "subject_memory_bytes",
				Help:      "Latest RSS sample per subject",
			},
			[]string{"subject"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devstack",
				Name:      "alerts_total",
				Help:      "Alerts raised by type",
			},
			[]string{"type", "severity"},
		),
	}

	m.registry.MustRegister(
		m.executionsTotal,
		m.executionDuration,
		m.activeSubjects,
		m.subjectCPU,
		m.subjectMemory,
		m.alertsTotal,
	)
	return m
}

// Registry returns the private registry for HTTP handler setup.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveExecution(em ExecutionMetrics) {
	m.executionsTotal.WithLabelValues(em.Language, em.Status).Inc()
	m.executionDuration.WithLabelValues(em.Language).Observe(em.Duration.Seconds())
}

func (m *Metrics) ObserveSample(sm Sample) {
	m.subjectCPU.WithLabelValues(sm.SubjectID).Set(sm.CPUPercent)
	m.subjectMemory.WithLabelValues(sm.SubjectID).Set(float64(sm.MemoryUsage))
}

func (m *Metrics) SetActiveSubjects(n int) {
	m.activeSubjects.Set(float64(n))
}

func (m *Metrics) ObserveAlert(a Alert) {
	m.alertsTotal.WithLabelValues(a.Type, string(a.Severity)).Inc()
}

// ForgetSubject drops the per-subject series once a subject goes away.
func (m *Metrics) ForgetSubject(id string) {
	m.subjectCPU.DeleteLabelValues(id)
	m.subjectMemory.DeleteLabelValues(id)
}
