// Package metrics exposes Prometheus collectors for directory sync,
// lockout and the retention lifecycle. A nil *Metrics is a valid no-op.
package metrics

import (
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SyncRuns          *prometheus.CounterVec
	SyncRecords       *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	LoginAttempts     *prometheus.CounterVec
	LockoutsTriggered prometheus.Counter
	Lifecycle         *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_directory_sync_runs_total",
			Help: "Directory sync runs by outcome",
		}, []string{"outcome"}),
		SyncRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_directory_sync_records_total",
			Help: "Identities touched by directory sync, by operation",
		}, []string{"op"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roster_directory_sync_duration_seconds",
			Help:    "Wall time of a directory sync run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_login_attempts_total",
			Help: "Recorded login attempts by result",
		}, []string{"result"}),
		LockoutsTriggered: f.NewCounter(prometheus.CounterOpts{
			Name: "roster_lockouts_triggered_total",
			Help: "Login attempts rejected because the identity is locked",
		}),
		Lifecycle: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_lifecycle_transitions_total",
			Help: "Retention lifecycle transitions by step",
		}, []string{"step"}),
	}
}

// ObserveSync records one sync run. Call with time.Now() taken at the start.
func (m *Metrics) ObserveSync(res domain.SyncResult, start time.Time, err error) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.SyncRuns.WithLabelValues("failed").Inc()
		return
	}
	m.SyncRuns.WithLabelValues("completed").Inc()
	m.SyncRecords.WithLabelValues("created").Add(float64(res.Created))
	m.SyncRecords.WithLabelValues("updated").Add(float64(res.Updated))
	m.SyncRecords.WithLabelValues("deactivated").Add(float64(res.Deactivated))
	m.SyncRecords.WithLabelValues("error").Add(float64(len(res.Errors)))
}

func (m *Metrics) ObserveAttempt(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementLockout() {
	if m == nil {
		return
	}
	m.LockoutsTriggered.Inc()
}

// ObserveAdvance records the outcome of one lifecycle pass.
func (m *Metrics) ObserveAdvance(r domain.AdvanceReport) {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues("anonymized").Add(float64(len(r.Anonymized)))
	m.Lifecycle.WithLabelValues("archived").Add(float64(len(r.Archived)))
	m.Lifecycle.WithLabelValues("deleted").Add(float64(len(r.Deleted)))
	m.Lifecycle.WithLabelValues("skipped").Add(float64(len(r.Skipped)))
}

// ObserveDeactivation counts a deactivation cascade.
func (m *Metrics) ObserveDeactivation() {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues("deactivated").Inc()
}
