package assignment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var assignmentColumns = []string{
	"id", "tenant_id", "collector_user_id", "building_id", "parent_assignment_id",
	"status", "retry_count", "last_attempt_at", "error_message", "acknowledged_at",
	"created_at", "updated_at",
}

// Repository handles building assignment persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new assignment repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a new assignment in Pending status
func (r *Repository) Create(ctx context.Context, assignment *models.BuildingAssignment) (*models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.Create")
	defer span.End()

	if assignment.ID == "" {
		assignment.ID = uuid.New().String()
	}
	assignment.Status = models.TransferStatusPending
	assignment.RetryCount = 0
	assignment.CreatedAt = time.Now().UTC()
	assignment.UpdatedAt = assignment.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("building_assignments")
	sb.Cols(assignmentColumns...)
	sb.Values(
		assignment.ID, assignment.TenantID, assignment.CollectorUserID, assignment.BuildingID,
		assignment.ParentAssignmentID, assignment.Status, assignment.RetryCount,
		assignment.LastAttemptAt, assignment.ErrorMessage, assignment.AcknowledgedAt,
		assignment.CreatedAt, assignment.UpdatedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"assignment_id": assignment.ID}).Error("Failed to create assignment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create assignment")
	}

	return assignment, nil
}

// Get retrieves an assignment by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(assignmentColumns...)
	sb.From("building_assignments")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var assignment models.BuildingAssignment
	if err := r.db.GetContext(ctx, &assignment, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("assignment %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get assignment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get assignment")
	}

	return &assignment, nil
}

// ListByCollector retrieves assignments for a collector, optionally filtered by status
func (r *Repository) ListByCollector(ctx context.Context, tenantID string, collectorUserID string, status models.TransferStatus, page, pageSize int) ([]models.BuildingAssignment, int, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.ListByCollector")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(assignmentColumns...)
	sb.From("building_assignments")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("collector_user_id", collectorUserID),
	}
	if status != "" {
		where = append(where, sb.Equal("status", status))
	}
	sb.Where(where...)
	sb.OrderBy("created_at ASC")
	sb.Limit(pageSize)
	sb.Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var items []models.BuildingAssignment
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list assignments")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list assignments")
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)")
	cb.From("building_assignments")
	cwhere := []string{
		cb.Equal("tenant_id", tenantID),
		cb.Equal("collector_user_id", collectorUserID),
	}
	if status != "" {
		cwhere = append(cwhere, cb.Equal("status", status))
	}
	cb.Where(cwhere...)

	query, args = cb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count assignments")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count assignments")
	}

	return items, total, nil
}

// ListPendingForCollectorSince returns the incremental transfer set for a
// device pull: pending or failed-and-retryable assignments changed after the
// device's last sync point.
func (r *Repository) ListPendingForCollectorSince(ctx context.Context, tenantID string, collectorUserID string, since time.Time, maxRetries int) ([]models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.ListPendingForCollectorSince")
	defer span.End()

	query := `
		SELECT ` + joinColumns() + `
		FROM building_assignments
		WHERE tenant_id = $1
		AND collector_user_id = $2
		AND updated_at > $3
		AND (status = 'pending' OR status = 'partial_transfer' OR (status = 'failed' AND retry_count < $4))
		ORDER BY created_at ASC
	`

	var items []models.BuildingAssignment
	if err := r.db.SelectContext(ctx, &items, query, tenantID, collectorUserID, since, maxRetries); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending assignments")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending assignments")
	}

	return items, nil
}

// UpdateStatus advances the transfer state machine for one assignment
func (r *Repository) UpdateStatus(ctx context.Context, tenantID string, id string, next models.TransferStatus, errorMessage *string) (*models.BuildingAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.UpdateStatus")
	defer span.End()

	current, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if _, err := current.Status.Transition(next); err != nil {
		return nil, httperror.NewHTTPError(http.StatusConflict, err.Error())
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("building_assignments")
	assigns := []string{
		ub.Assign("status", next),
		ub.Assign("error_message", errorMessage),
		ub.Assign("updated_at", now),
	}
	switch next {
	case models.TransferStatusInProgress:
		assigns = append(assigns, ub.Assign("last_attempt_at", now))
	case models.TransferStatusFailed:
		assigns = append(assigns, ub.Assign("retry_count", current.RetryCount+1))
	case models.TransferStatusSynchronized:
		assigns = append(assigns, ub.Assign("acknowledged_at", now))
	}
	ub.Set(assigns...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.Equal("status", current.Status),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"assignment_id": id, "status": next}).Error("Failed to update assignment status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update assignment status")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update assignment status")
	}
	if rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("assignment %s changed concurrently", id))
	}

	return r.Get(ctx, tenantID, id)
}

// Acknowledge marks transferred assignments as synchronized after the device
// confirms receipt
func (r *Repository) Acknowledge(ctx context.Context, tenantID string, ids []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.Acknowledge")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("building_assignments")
	ub.Set(
		ub.Assign("status", models.TransferStatusSynchronized),
		ub.Assign("acknowledged_at", now),
		ub.Assign("updated_at", now),
	)
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	ub.Where(
		ub.Equal("tenant_id", tenantID),
		ub.In("id", anyIDs...),
		ub.Equal("status", models.TransferStatusTransferred),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("Failed to acknowledge assignments")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to acknowledge assignments")
	}

	return result.RowsAffected()
}

func joinColumns() string {
	out := ""
	for i, col := range assignmentColumns {
		if i > 0 {
			out += ", "
		}
		out += col
	}
	return out
}
