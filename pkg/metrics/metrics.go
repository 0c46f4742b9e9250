// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PackagesProcessedTotal tracks packages leaving the pipeline by outcome
	PackagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "pipeline",
			Name:      "packages_total",
			Help:      "Total number of packages processed by final status",
		},
		[]string{"tenant_id", "status"},
	)

	// PipelineStageDuration tracks per-stage processing duration in seconds
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// StagedRecordsTotal tracks staged rows ingested per entity family
	StagedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "staging",
			Name:      "records_total",
			Help:      "Total number of records ingested into staging by family",
		},
		[]string{"tenant_id", "family"},
	)

	// ValidationIssuesTotal tracks validator findings by level and severity
	ValidationIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "validation",
			Name:      "issues_total",
			Help:      "Total number of validation findings by level and severity",
		},
		[]string{"level", "severity"},
	)

	// ConflictsDetectedTotal tracks duplicate-detection findings
	ConflictsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "conflicts",
			Name:      "detected_total",
			Help:      "Total number of conflicts raised by duplicate detection",
		},
		[]string{"tenant_id", "entity_type", "priority"},
	)

	// ConflictsResolvedTotal tracks conflict resolutions by action
	ConflictsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "conflicts",
			Name:      "resolved_total",
			Help:      "Total number of conflicts resolved by action",
		},
		[]string{"tenant_id", "action"},
	)

	// CommitDuration tracks commit engine transaction duration
	CommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "commit",
			Name:      "duration_seconds",
			Help:      "Duration of package commit transactions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tenant_id"},
	)

	// CommittedEntitiesTotal tracks rows promoted into the system of record
	CommittedEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "commit",
			Name:      "entities_total",
			Help:      "Total number of entities committed by family",
		},
		[]string{"tenant_id", "family"},
	)

	// TransferAttemptsTotal tracks assignment transfer attempts by outcome
	TransferAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "transfer",
			Name:      "attempts_total",
			Help:      "Total number of assignment transfer attempts by outcome",
		},
		[]string{"tenant_id", "status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// RetentionPurgedRowsTotal tracks staged rows removed by the purger
	RetentionPurgedRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "retention",
			Name:      "purged_rows_total",
			Help:      "Total number of staged rows removed after retention",
		},
	)
)

// RecordPackageProcessed records a package reaching a terminal status
func RecordPackageProcessed(tenantID, status string) {
	PackagesProcessedTotal.WithLabelValues(tenantID, status).Inc()
}

// RecordStageDuration records one pipeline stage's duration
func RecordStageDuration(stage string, durationSeconds float64) {
	PipelineStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordValidationIssues records a validator level's findings
func RecordValidationIssues(level string, errors, warnings int) {
	ValidationIssuesTotal.WithLabelValues(level, "error").Add(float64(errors))
	ValidationIssuesTotal.WithLabelValues(level, "warning").Add(float64(warnings))
}

// RecordConflictDetected records a duplicate-detection finding
func RecordConflictDetected(tenantID, entityType, priority string) {
	ConflictsDetectedTotal.WithLabelValues(tenantID, entityType, priority).Inc()
}

// RecordCommit records a completed commit transaction
func RecordCommit(tenantID string, committed map[string]int, durationSeconds float64) {
	CommitDuration.WithLabelValues(tenantID).Observe(durationSeconds)
	for family, count := range committed {
		CommittedEntitiesTotal.WithLabelValues(tenantID, family).Add(float64(count))
	}
}
