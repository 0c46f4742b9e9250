// Package staging persists staged records. One generic store serves all eight
// entity families; each family keeps its own table and strongly typed row
// shape while sharing the header columns and CRUD logic.
package staging

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// TableFor maps a family to its staging table
func TableFor(family models.EntityFamily) string {
	return fmt.Sprintf("staged_%ss", family)
}

// Store is the staging repository for one entity family
type Store[T models.StagedRow] struct {
	db     database.DB
	logger ectologger.Logger
	table  string
	str    *database.Struct
}

// NewStore creates a staging store for the family of T
func NewStore[T models.StagedRow](db database.DB, logger ectologger.Logger) *Store[T] {
	var zero T
	return &Store[T]{
		db:     db,
		logger: logger,
		table:  TableFor(zero.Family()),
		str:    database.NewStruct(zero),
	}
}

// CreateBatch inserts staged rows for a package. Re-delivered packages hit the
// (package_id, original_id) unique constraint and are skipped, keeping ingest
// idempotent.
func (s *Store[T]) CreateBatch(ctx context.Context, rows []T) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.CreateBatch")
	defer span.End()

	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	values := make([]any, len(rows))
	for i, row := range rows {
		h := row.GetHeader()
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		if h.Status == "" {
			h.Status = models.ValidationStatusPending
		}
		if h.Errors.Data == nil {
			h.Errors.Data = []string{}
		}
		if h.Warnings.Data == nil {
			h.Warnings.Data = []string{}
		}
		h.CreatedAt = now
		h.UpdatedAt = now
		values[i] = row
	}

	ib := s.str.InsertInto(s.table, values...)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to create staged rows")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create staged records")
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{"table": s.table, "count": len(rows)}).Debug("Created staged rows")
	return nil
}

// Get retrieves one staged row by ID
func (s *Store[T]) Get(ctx context.Context, tenantID string, id string) (T, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.Get")
	defer span.End()

	var zero T

	sb := s.str.SelectFrom(s.table)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	row := newRow[T]()
	if err := s.db.GetContext(ctx, row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return zero, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("staged record %s not found", id))
		}
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to get staged record")
		return zero, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get staged record")
	}

	return row, nil
}

// ListByPackage retrieves every staged row of the family for a package
func (s *Store[T]) ListByPackage(ctx context.Context, tenantID string, packageID string) ([]T, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.ListByPackage")
	defer span.End()

	sb := s.str.SelectFrom(s.table)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("package_id", packageID),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var rows []T
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to list staged records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list staged records")
	}

	return rows, nil
}

// GetByOriginalID retrieves the staged row carrying an original identifier.
// Returns nil without error when no row exists; callers treat that as a
// dangling reference.
func (s *Store[T]) GetByOriginalID(ctx context.Context, tenantID string, packageID string, originalID string) (T, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.GetByOriginalID")
	defer span.End()

	var zero T

	sb := s.str.SelectFrom(s.table)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("package_id", packageID),
		sb.Equal("original_id", originalID),
	)
	sb.Limit(1)

	query, args := sb.Build()
	row := newRow[T]()
	if err := s.db.GetContext(ctx, row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return zero, false, nil
		}
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to get staged record by original id")
		return zero, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get staged record")
	}

	return row, true, nil
}

// UpdateValidation writes a validator's outcome back onto a staged row
func (s *Store[T]) UpdateValidation(ctx context.Context, tenantID string, id string, status models.ValidationStatus, errs []string, warnings []string) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.UpdateValidation")
	defer span.End()

	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(s.table)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("errors", database.JSONB[[]string]{Data: errs}),
		ub.Assign("warnings", database.JSONB[[]string]{Data: warnings}),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to update staged record validation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update staged record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("staged record %s not found", id))
	}

	return nil
}

// SetStatus moves a staged row to a new lifecycle status
func (s *Store[T]) SetStatus(ctx context.Context, tenantID string, id string, status models.ValidationStatus) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.SetStatus")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(s.table)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to set staged record status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update staged record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("staged record %s not found", id))
	}

	return nil
}

// Approve marks a Valid row approved for commit
func (s *Store[T]) Approve(ctx context.Context, tenantID string, id string, approvedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.Approve")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(s.table)
	ub.Set(
		ub.Assign("status", models.ValidationStatusApprovedForCommit),
		ub.Assign("approved_for_commit", true),
		ub.Assign("approved_by", approvedBy),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.Equal("status", models.ValidationStatusValid),
	)

	query, args := ub.Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to approve staged record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to approve staged record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("staged record %s is not in a valid state for approval", id))
	}

	return nil
}

// SetCommittedID records the system-of-record identifier assigned at commit.
// Runs inside the commit transaction via the context-carried Tx.
func (s *Store[T]) SetCommittedID(ctx context.Context, tenantID string, id string, committedID string) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.SetCommittedID")
	defer span.End()

	parent := ctx
	joined := database.InTransaction(ctx)
	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	if !joined {
		defer tx.Rollback(parent)
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(s.table)
	ub.Set(
		ub.Assign("status", models.ValidationStatusCommitted),
		ub.Assign("committed_entity_id", committedID),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to set committed entity id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record committed entity id")
	}

	if joined {
		return nil
	}
	return tx.Commit(ctx)
}

// CountByStatus returns row counts per validation status for a package
func (s *Store[T]) CountByStatus(ctx context.Context, tenantID string, packageID string) (map[models.ValidationStatus]int, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.CountByStatus")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT status, COUNT(*) AS count
		FROM %s
		WHERE tenant_id = $1 AND package_id = $2
		GROUP BY status
	`, s.table)

	var rows []struct {
		Status models.ValidationStatus `db:"status"`
		Count  int                     `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, tenantID, packageID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to count staged records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count staged records")
	}

	counts := make(map[models.ValidationStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteByPackage bulk-removes the family's rows for a package. Used by the
// retention purger once a package leaves its retention window.
func (s *Store[T]) DeleteByPackage(ctx context.Context, tenantID string, packageID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Store.DeleteByPackage")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(s.table)
	db.Where(
		db.Equal("tenant_id", tenantID),
		db.Equal("package_id", packageID),
	)

	query, args := db.Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": s.table}).Error("Failed to delete staged records")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete staged records")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// newRow allocates a T, which is a pointer type for every staged family
func newRow[T models.StagedRow]() T {
	var zero T
	elem := reflect.TypeOf(zero).Elem()
	return reflect.New(elem).Interface().(T)
}
