// Package events handles event emission for package lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// statusEventTypes maps a package workflow status to the lifecycle event it
// announces. Statuses with no downstream audience emit nothing.
var statusEventTypes = map[models.PackageStatus]EventType{
	models.PackageStatusReceived:      EventTypePackageReceived,
	models.PackageStatusVerified:      EventTypePackageVerified,
	models.PackageStatusStaged:        EventTypePackageStaged,
	models.PackageStatusValidated:     EventTypePackageValidated,
	models.PackageStatusReadyToCommit: EventTypePackageReady,
	models.PackageStatusCompleted:     EventTypePackageCommitted,
	models.PackageStatusFailed:        EventTypePackageFailed,
	models.PackageStatusRejected:      EventTypePackageRejected,
}

// Emitter handles event emission for the import pipeline
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitPackageStatus emits the lifecycle event for a package status change.
// Statuses without a mapped event type are silently skipped.
func (e *Emitter) EmitPackageStatus(ctx context.Context, pkg *models.ImportPackage, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPackageStatus")
	defer span.End()

	eventType, ok := statusEventTypes[pkg.Status]
	if !ok {
		return nil
	}

	payload := PackageLifecycleEvent{
		BaseEvent:     NewBaseEvent(eventType, pkg.TenantID),
		PackageID:     pkg.ID,
		PackageNumber: pkg.PackageNumber,
		Status:        string(pkg.Status),
		Reason:        reason,
	}
	data, _ := json.Marshal(payload)

	event := &kafka.PackageEvent{
		EventType:     string(eventType),
		TenantID:      pkg.TenantID,
		PackageID:     pkg.ID,
		PackageNumber: pkg.PackageNumber,
		Status:        string(pkg.Status),
		Data:          data,
	}

	if err := e.producer.PublishPackageEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"package_id": pkg.ID,
		}).Error("Failed to emit package lifecycle event")
		return err
	}

	return nil
}

// EmitPackageCommitted emits the commit completion event with per-family counts
func (e *Emitter) EmitPackageCommitted(ctx context.Context, pkg *models.ImportPackage, committed map[string]int, skipped int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPackageCommitted")
	defer span.End()

	payload := PackageLifecycleEvent{
		BaseEvent:     NewBaseEvent(EventTypePackageCommitted, pkg.TenantID),
		PackageID:     pkg.ID,
		PackageNumber: pkg.PackageNumber,
		Status:        string(models.PackageStatusCompleted),
		Committed:     committed,
		Skipped:       skipped,
	}
	data, _ := json.Marshal(payload)

	event := &kafka.PackageEvent{
		EventType:     string(EventTypePackageCommitted),
		TenantID:      pkg.TenantID,
		PackageID:     pkg.ID,
		PackageNumber: pkg.PackageNumber,
		Status:        string(models.PackageStatusCompleted),
		Data:          data,
	}

	if err := e.producer.PublishPackageEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit package.committed event")
		return err
	}

	return nil
}

// EmitConflictsDetected emits one conflict.detected event per raised conflict
func (e *Emitter) EmitConflictsDetected(ctx context.Context, tenantID string, conflicts []models.ConflictResolution) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitConflictsDetected")
	defer span.End()

	if len(conflicts) == 0 {
		return nil
	}

	batch := make([]*kafka.ConflictEvent, len(conflicts))
	for i, c := range conflicts {
		batch[i] = &kafka.ConflictEvent{
			EventType:  string(EventTypeConflictDetected),
			TenantID:   tenantID,
			ConflictID: c.ID,
			PackageID:  c.PackageID,
			EntityType: string(c.EntityType),
			EntityAID:  c.EntityAID,
			EntityBID:  c.EntityBID,
			Score:      c.SimilarityScore,
			Priority:   c.Priority,
		}
	}

	if err := e.producer.PublishConflictEvents(ctx, batch); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"count": len(conflicts),
		}).Error("Failed to emit conflict.detected events")
		return err
	}

	return nil
}
