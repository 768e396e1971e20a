// Package observability implements the Observability component (spec §4.6):
// progress computation, Prometheus metrics, an event bus for streaming
// consumers, and health/SLA-violation checks. None of it participates in
// core execution logic — every other component stays usable with this
// package entirely absent.
package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors, registered on a private
// registry (never the global default) so embedding applications can compose
// freely, grounded on the teacher's metrics.go CounterVec/HistogramVec/
// GaugeVec pattern.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal       *prometheus.CounterVec
	StepDurationSeconds   *prometheus.HistogramVec
	QueueDepth            *prometheus.GaugeVec
	QueueWaitSeconds      *prometheus.HistogramVec
	SLAViolationsTotal    *prometheus.CounterVec
	ActiveExecutions      prometheus.Gauge
	MutexContentionsTotal *prometheus.CounterVec
	RBACDenialsTotal      *prometheus.CounterVec
}

// NewMetrics builds and registers the engine's metric collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagee_executions_total",
			Help: "Total executions by terminal status.",
		}, []string{"status", "sla_class"}),
		StepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagee_step_duration_seconds",
			Help:    "Step execution duration in seconds by step type.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"step_type", "status"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stagee_queue_depth",
			Help: "Number of queue items awaiting dispatch, by SLA class.",
		}, []string{"sla_class"}),
		QueueWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagee_queue_wait_seconds",
			Help:    "Time a queue item waited between enqueue and dequeue.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"sla_class"}),
		SLAViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagee_sla_violations_total",
			Help: "Executions that exceeded their execution budget.",
		}, []string{"sla_class"}),
		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stagee_active_executions",
			Help: "Executions currently in the running state.",
		}),
		MutexContentionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagee_mutex_contentions_total",
			Help: "Per-asset mutex acquisitions that found the asset already locked.",
		}, []string{"asset_id"}),
		RBACDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagee_rbac_denials_total",
			Help: "RBAC revalidation denials by permission.",
		}, []string{"permission"}),
	}
	reg.MustRegister(
		m.ExecutionsTotal, m.StepDurationSeconds, m.QueueDepth, m.QueueWaitSeconds,
		m.SLAViolationsTotal, m.ActiveExecutions, m.MutexContentionsTotal, m.RBACDenialsTotal,
	)
	return m
}
