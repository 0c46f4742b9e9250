package audit

import (
	"context"
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

// Repository handles audit trail persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new audit repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an audit entry. Failures are logged but never bubble up; an
// audit write must not fail the operation it records.
func (r *Repository) Insert(ctx context.Context, entry models.AuditEntry) {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.Insert")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("audit_entries")
	sb.Cols("id", "tenant_id", "actor_id", "action", "object_type", "object_id", "detail", "created_at")
	sb.Values(entry.ID, entry.TenantID, entry.ActorID, entry.Action, entry.ObjectType, entry.ObjectID, entry.Detail, entry.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action":    entry.Action,
			"object_id": entry.ObjectID,
		}).Error("Failed to insert audit entry")
	}
}

// ListByObject retrieves the audit trail for one object, newest first
func (r *Repository) ListByObject(ctx context.Context, tenantID string, objectType, objectID string, limit int) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.ListByObject")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "actor_id", "action", "object_type", "object_id", "detail", "created_at")
	sb.From("audit_entries")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("object_type", objectType),
		sb.Equal("object_id", objectID),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var items []models.AuditEntry
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list audit entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list audit entries")
	}

	return items, nil
}
