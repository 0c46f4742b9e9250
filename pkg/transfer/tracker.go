// Package transfer tracks the lifecycle of building assignments handed to
// field devices: incremental pulls, delivery acknowledgement, and retry
// bookkeeping. Assignment transfer is independent of package import.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// repository is the assignment persistence surface the tracker needs
type repository interface {
	Create(ctx context.Context, assignment *models.BuildingAssignment) (*models.BuildingAssignment, error)
	Get(ctx context.Context, tenantID string, id string) (*models.BuildingAssignment, error)
	ListByCollector(ctx context.Context, tenantID string, collectorUserID string, status models.TransferStatus, page, pageSize int) ([]models.BuildingAssignment, int, error)
	ListPendingForCollectorSince(ctx context.Context, tenantID string, collectorUserID string, since time.Time, maxRetries int) ([]models.BuildingAssignment, error)
	UpdateStatus(ctx context.Context, tenantID string, id string, next models.TransferStatus, errorMessage *string) (*models.BuildingAssignment, error)
	Acknowledge(ctx context.Context, tenantID string, ids []string) (int64, error)
}

// Tracker manages assignment transfer state
type Tracker struct {
	repo       repository
	maxRetries int
	logger     ectologger.Logger
}

// NewTracker creates a transfer tracker
func NewTracker(repo repository, maxRetries int, logger ectologger.Logger) *Tracker {
	return &Tracker{
		repo:       repo,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Assign hands a building to a collector. A revisit references the superseded
// assignment through ParentAssignmentID; assignments are never deleted.
func (t *Tracker) Assign(ctx context.Context, tenantID string, req models.CreateAssignmentRequest) (*models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Tracker.Assign")
	defer span.End()

	if req.ParentAssignmentID != nil {
		if _, err := t.repo.Get(ctx, tenantID, *req.ParentAssignmentID); err != nil {
			return nil, err
		}
	}

	return t.repo.Create(ctx, &models.BuildingAssignment{
		TenantID:           tenantID,
		CollectorUserID:    req.CollectorUserID,
		BuildingID:         req.BuildingID,
		ParentAssignmentID: req.ParentAssignmentID,
	})
}

// Pull returns the incremental transfer set for a device: assignments created
// or changed since the device's last sync point. Retryable failures return to
// Pending first; everything handed out moves to InProgress.
func (t *Tracker) Pull(ctx context.Context, tenantID string, collectorUserID string, since time.Time) ([]models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Tracker.Pull")
	defer span.End()

	candidates, err := t.repo.ListPendingForCollectorSince(ctx, tenantID, collectorUserID, since, t.maxRetries)
	if err != nil {
		return nil, err
	}

	out := make([]models.BuildingAssignment, 0, len(candidates))
	for _, a := range candidates {
		if a.Status == models.TransferStatusFailed {
			if _, err := t.repo.UpdateStatus(ctx, tenantID, a.ID, models.TransferStatusPending, nil); err != nil {
				t.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"assignment_id": a.ID}).Warn("Failed to reset assignment for retry")
				continue
			}
		}
		updated, err := t.repo.UpdateStatus(ctx, tenantID, a.ID, models.TransferStatusInProgress, nil)
		if err != nil {
			t.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"assignment_id": a.ID}).Warn("Failed to mark assignment in progress")
			continue
		}
		out = append(out, *updated)
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"collector_user_id": collectorUserID,
		"count":             len(out),
	}).Info("Assignments pulled for transfer")

	return out, nil
}

// Acknowledge records that a device received the listed assignments. A full
// acknowledgement advances each one InProgress -> Transferred -> Synchronized.
// A partial acknowledgement lands the assignments in PartialTransfer with the
// device's error; the next Pull picks them up again and pushes the delta.
func (t *Tracker) Acknowledge(ctx context.Context, tenantID string, req models.AcknowledgeTransferRequest) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Tracker.Acknowledge")
	defer span.End()

	if req.Partial {
		var acked int64
		for _, id := range req.AssignmentIDs {
			if _, err := t.repo.UpdateStatus(ctx, tenantID, id, models.TransferStatusPartialTransfer, req.ErrorMessage); err != nil {
				return acked, err
			}
			acked++
		}
		metrics.TransferAttemptsTotal.WithLabelValues(tenantID, string(models.TransferStatusPartialTransfer)).Add(float64(acked))

		t.logger.WithContext(ctx).WithFields(map[string]any{
			"acknowledged":  acked,
			"error_message": req.ErrorMessage,
		}).Warn("Partial transfer acknowledged")

		return acked, nil
	}

	for _, id := range req.AssignmentIDs {
		if _, err := t.repo.UpdateStatus(ctx, tenantID, id, models.TransferStatusTransferred, nil); err != nil {
			return 0, err
		}
	}

	acked, err := t.repo.Acknowledge(ctx, tenantID, req.AssignmentIDs)
	if err != nil {
		return 0, err
	}
	metrics.TransferAttemptsTotal.WithLabelValues(tenantID, string(models.TransferStatusSynchronized)).Add(float64(acked))

	return acked, nil
}

// Fail records a transfer failure. Once the retry budget is exhausted the
// assignment is cancelled and ErrTransferExhausted returned so the caller can
// surface it for manual reassignment.
func (t *Tracker) Fail(ctx context.Context, tenantID string, assignmentID string, errorMessage *string) (*models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Tracker.Fail")
	defer span.End()

	updated, err := t.repo.UpdateStatus(ctx, tenantID, assignmentID, models.TransferStatusFailed, errorMessage)
	if err != nil {
		return nil, err
	}
	metrics.TransferAttemptsTotal.WithLabelValues(tenantID, string(models.TransferStatusFailed)).Inc()

	if updated.RetryCount >= t.maxRetries {
		cancelled, err := t.repo.UpdateStatus(ctx, tenantID, assignmentID, models.TransferStatusCancelled, errorMessage)
		if err != nil {
			return nil, err
		}
		return cancelled, fmt.Errorf("%w: assignment %s failed %d times", models.ErrTransferExhausted, assignmentID, updated.RetryCount)
	}

	return updated, nil
}

// Cancel withdraws an assignment that has not transferred
func (t *Tracker) Cancel(ctx context.Context, tenantID string, assignmentID string) (*models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Tracker.Cancel")
	defer span.End()

	return t.repo.UpdateStatus(ctx, tenantID, assignmentID, models.TransferStatusCancelled, nil)
}

// List exposes collector assignment listings for the API
func (t *Tracker) List(ctx context.Context, tenantID string, collectorUserID string, status models.TransferStatus, page, pageSize int) ([]models.BuildingAssignment, int, error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.Tracker.List")
	defer span.End()

	return t.repo.ListByCollector(ctx, tenantID, collectorUserID, status, page, pageSize)
}
