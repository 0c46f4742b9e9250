package conflict

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

var conflictColumns = []string{
	"id", "tenant_id", "package_id", "entity_type", "conflict_type",
	"entity_a_id", "entity_b_id", "entity_b_committed",
	"similarity_score", "field_scores", "status", "priority", "assigned_to",
	"action", "surviving_id", "discarded_id", "resolved_by", "resolved_at",
	"escalated_at", "created_at", "updated_at",
}

// Repository handles conflict resolution persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new conflict repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts detected conflicts. Re-running detection on the same
// pair keeps the higher similarity score instead of duplicating the row; the
// unique index normalizes the pair with LEAST/GREATEST so (A,B) and (B,A)
// collide.
func (r *Repository) CreateBatch(ctx context.Context, conflicts []models.ConflictResolution) error {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.CreateBatch")
	defer span.End()

	if len(conflicts) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("conflict_resolutions")
	sb.Cols(
		"id", "tenant_id", "package_id", "entity_type", "conflict_type",
		"entity_a_id", "entity_b_id", "entity_b_committed",
		"similarity_score", "field_scores", "status", "priority", "created_at", "updated_at",
	)
	for _, c := range conflicts {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		sb.Values(
			id, c.TenantID, c.PackageID, c.EntityType, c.ConflictType,
			c.EntityAID, c.EntityBID, c.EntityBCommitted,
			c.SimilarityScore, c.FieldScores, models.ConflictStatusPendingReview, c.Priority, now, now,
		)
	}

	query, args := sb.Build()
	query += ` ON CONFLICT (tenant_id, entity_type, LEAST(entity_a_id, entity_b_id), GREATEST(entity_a_id, entity_b_id))
		DO UPDATE SET
			similarity_score = GREATEST(conflict_resolutions.similarity_score, EXCLUDED.similarity_score),
			field_scores = EXCLUDED.field_scores,
			updated_at = EXCLUDED.updated_at
		WHERE conflict_resolutions.status = 'pending_review'`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(conflicts)}).Error("Failed to create conflicts")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create conflicts")
	}

	return nil
}

// Get retrieves a conflict by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.ConflictResolution, error) {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(conflictColumns...)
	sb.From("conflict_resolutions")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var conflict models.ConflictResolution
	if err := r.db.GetContext(ctx, &conflict, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("conflict %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get conflict")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conflict")
	}

	return &conflict, nil
}

// GetByEntityPair looks up a conflict in either pair order
func (r *Repository) GetByEntityPair(ctx context.Context, tenantID string, entityAID, entityBID string) (*models.ConflictResolution, error) {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.GetByEntityPair")
	defer span.End()

	query := `
		SELECT ` + joinColumns() + `
		FROM conflict_resolutions
		WHERE tenant_id = $1
		AND ((entity_a_id = $2 AND entity_b_id = $3) OR (entity_a_id = $3 AND entity_b_id = $2))
	`

	var conflict models.ConflictResolution
	if err := r.db.GetContext(ctx, &conflict, query, tenantID, entityAID, entityBID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get conflict by entity pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conflict")
	}

	return &conflict, nil
}

// ListByPackage retrieves conflicts for a package, optionally filtered by status
func (r *Repository) ListByPackage(ctx context.Context, tenantID string, packageID string, status models.ConflictStatus, page, pageSize int) ([]models.ConflictResolution, int, error) {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.ListByPackage")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(conflictColumns...)
	sb.From("conflict_resolutions")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("package_id", packageID),
	}
	if status != "" {
		where = append(where, sb.Equal("status", status))
	}
	sb.Where(where...)
	sb.OrderBy("similarity_score DESC", "created_at ASC")
	sb.Limit(pageSize)
	sb.Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var items []models.ConflictResolution
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list conflicts")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list conflicts")
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)")
	cb.From("conflict_resolutions")
	cwhere := []string{
		cb.Equal("tenant_id", tenantID),
		cb.Equal("package_id", packageID),
	}
	if status != "" {
		cwhere = append(cwhere, cb.Equal("status", status))
	}
	cb.Where(cwhere...)

	query, args = cb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count conflicts")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count conflicts")
	}

	return items, total, nil
}

// CountPendingByPackage returns how many conflicts still block commit.
// Escalated conflicts count as open.
func (r *Repository) CountPendingByPackage(ctx context.Context, tenantID string, packageID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.CountPendingByPackage")
	defer span.End()

	query := `
		SELECT COUNT(*)
		FROM conflict_resolutions
		WHERE tenant_id = $1
		AND package_id = $2
		AND status IN ('pending_review', 'escalated')
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, packageID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count pending conflicts")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count pending conflicts")
	}

	return count, nil
}

// Resolve records the reviewer's decision on a conflict
func (r *Repository) Resolve(ctx context.Context, tenantID string, id string, status models.ConflictStatus, action models.ConflictAction, survivingID, discardedID *string, resolvedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.Resolve")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("conflict_resolutions")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("action", action),
		ub.Assign("surviving_id", survivingID),
		ub.Assign("discarded_id", discardedID),
		ub.Assign("resolved_by", resolvedBy),
		ub.Assign("resolved_at", now),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.In("status", models.ConflictStatusPendingReview, models.ConflictStatusEscalated),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"conflict_id": id}).Error("Failed to resolve conflict")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve conflict")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve conflict")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("conflict %s is not open for resolution", id))
	}

	return nil
}

// Escalate marks a conflict for supervisor review. It stays open and keeps
// blocking commit.
func (r *Repository) Escalate(ctx context.Context, tenantID string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.Escalate")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("conflict_resolutions")
	ub.Set(
		ub.Assign("status", models.ConflictStatusEscalated),
		ub.Assign("priority", models.ConflictPriorityHigh),
		ub.Assign("escalated_at", now),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.Equal("status", models.ConflictStatusPendingReview),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"conflict_id": id}).Error("Failed to escalate conflict")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to escalate conflict")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to escalate conflict")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("conflict %s is not pending review", id))
	}

	return nil
}

// Assign routes a conflict to a specific reviewer
func (r *Repository) Assign(ctx context.Context, tenantID string, id string, assignedTo string) error {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.Assign")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("conflict_resolutions")
	ub.Set(
		ub.Assign("assigned_to", assignedTo),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.In("status", models.ConflictStatusPendingReview, models.ConflictStatusEscalated),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"conflict_id": id}).Error("Failed to assign conflict")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to assign conflict")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to assign conflict")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("conflict %s is not open", id))
	}

	return nil
}

// DeleteByPackage removes conflicts during staging retention cleanup
func (r *Repository) DeleteByPackage(ctx context.Context, tenantID string, packageID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "conflict.Repository.DeleteByPackage")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("conflict_resolutions")
	db.Where(
		db.Equal("tenant_id", tenantID),
		db.Equal("package_id", packageID),
	)

	query, args := db.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"package_id": packageID}).Error("Failed to delete conflicts")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete conflicts")
	}

	return result.RowsAffected()
}

func joinColumns() string {
	out := ""
	for i, col := range conflictColumns {
		if i > 0 {
			out += ", "
		}
		out += col
	}
	return out
}
