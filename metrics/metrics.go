// Package metrics exposes the Prometheus collectors updated by the state
// machines, worker pools, scheduler and status store:
//
//	assistant_phase_progress{process}            - current progress (0-100)
//	assistant_phase_transitions_total{process,phase}
//	assistant_pool_active_units{pool}            - in-flight work units
//	assistant_pool_submissions_total{pool,result} - admitted|capacity|not_ready|closed
//	assistant_pool_units_total{pool,outcome}     - success|failure
//	assistant_job_runs_total{job,status}         - completed|failed
//	assistant_store_errors_total{op}
//
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the backend updates
type Metrics struct {
	phaseProgress    *prometheus.GaugeVec
	phaseTransitions *prometheus.CounterVec
	poolActive       *prometheus.GaugeVec
	poolSubmissions  *prometheus.CounterVec
	poolUnits        *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		phaseProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assistant_phase_progress",
				Help: "Current progress of a phase state machine (0-100)",
			},
			[]string{"process"},
		),
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_phase_transitions_total",
				Help: "Phase changes by process and entered phase",
			},
			[]string{"process", "phase"},
		),
		poolActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assistant_pool_active_units",
				Help: "Work units currently in flight",
			},
			[]string{"pool"},
		),
		poolSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_pool_submissions_total",
				Help: "Pool submissions by admission result",
			},
			[]string{"pool", "result"},
		),
		poolUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_pool_units_total",
				Help: "Completed work units by outcome",
			},
			[]string{"pool", "outcome"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_job_runs_total",
				Help: "Scheduled job runs by final status",
			},
			[]string{"job", "status"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_store_errors_total",
				Help: "Status store failures absorbed by the fail-open policy",
			},
			[]string{"op"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.phaseProgress,
			m.phaseTransitions,
			m.poolActive,
			m.poolSubmissions,
			m.poolUnits,
			m.jobRuns,
			m.storeErrors,
		)
	}
	return m
}

func (m *Metrics) SetProgress(process string, progress float64) {
	if m == nil {
		return
	}
	m.phaseProgress.WithLabelValues(process).Set(progress)
}

func (m *Metrics) PhaseEntered(process, phase string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(process, phase).Inc()
}

func (m *Metrics) SetPoolActive(pool string, n int) {
	if m == nil {
		return
	}
	m.poolActive.WithLabelValues(pool).Set(float64(n))
}

func (m *Metrics) PoolSubmission(pool, result string) {
	if m == nil {
		return
	}
	m.poolSubmissions.WithLabelValues(pool, result).Inc()
}

func (m *Metrics) UnitCompleted(pool string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.poolUnits.WithLabelValues(pool, outcome).Inc()
}

func (m *Metrics) JobRun(job, status string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}
