package services

import (
	"database/sql"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/storepilot/backend/internal/models"
	"gorm.io/gorm"
)

// Registry holds every collector exposed on /metrics.
var Registry = prometheus.NewRegistry()

var (
	aiCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storepilot",
		Name:      "ai_calls_total",
		Help:      "AI suggestion calls by action and outcome.",
	}, []string{"action", "success"})

	// SafetyBlocksTotal counts failed safety checks on blocked applies.
	SafetyBlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storepilot",
		Name:      "safety_blocks_total",
		Help:      "Failed safety checks on blocked automation applies, by check.",
	}, []string{"check"})

	// PreviewsTotal counts generated drafts by resulting status.
	PreviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storepilot",
		Name:      "playbook_previews_total",
		Help:      "Playbook previews by playbook and draft status.",
	}, []string{"playbook", "status"})

	// AppliesTotal counts applies that passed every rail.
	AppliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storepilot",
		Name:      "playbook_applies_total",
		Help:      "Playbook applies by playbook and trigger.",
	}, []string{"playbook", "trigger"})

	// AppliedRecordsTotal counts per-record apply outcomes.
	AppliedRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storepilot",
		Name:      "playbook_records_total",
		Help:      "Per-record apply outcomes by playbook and item status.",
	}, []string{"playbook", "status"})

	// ApplyDuration observes the wall time of the write phase.
	ApplyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storepilot",
		Name:      "playbook_apply_duration_seconds",
		Help:      "Duration of the per-record write phase of an apply.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"playbook"})

	// WorkQueueBundlesDropped counts bundles omitted because their estimate failed.
	WorkQueueBundlesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storepilot",
		Name:      "work_queue_bundles_dropped_total",
		Help:      "Work queue bundles omitted after an upstream failure.",
	})

	tasksEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storepilot",
		Name:      "automation_tasks_enqueued_total",
		Help:      "Automation tasks enqueued by kind and queue mode.",
	}, []string{"kind", "mode"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		aiCallsTotal,
		SafetyBlocksTotal,
		PreviewsTotal,
		AppliesTotal,
		AppliedRecordsTotal,
		ApplyDuration,
		WorkQueueBundlesDropped,
		tasksEnqueuedTotal,
	)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var dbMetricsOnce sync.Once

// RegisterDBMetrics adds gauges read from the database at scrape time. Only
// the first call registers.
func RegisterDBMetrics(db *gorm.DB) {
	dbMetricsOnce.Do(func() {
		Registry.MustRegister(collectors.NewDBStatsCollector(mustSQLDB(db), "storepilot"))
		Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "storepilot",
			Name:      "approval_requests_pending",
			Help:      "Approval requests waiting for an owner decision.",
		}, func() float64 {
			var n int64
			db.Model(&models.ApprovalRequest{}).Where("status = ?", models.ApprovalPending).Count(&n)
			return float64(n)
		}))
		Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "storepilot",
			Name:      "drafts_live",
			Help:      "Automation drafts that are neither applied nor expired.",
		}, func() float64 {
			var n int64
			db.Model(&models.AutomationDraft{}).
				Where("status NOT IN ?", []string{models.DraftStatusApplied, models.DraftStatusExpired}).
				Count(&n)
			return float64(n)
		}))
	})
}

func mustSQLDB(db *gorm.DB) *sql.DB {
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	return sqlDB
}
