package importpackage

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

var packageColumns = []string{
	"id", "tenant_id", "package_number", "device_id", "app_version", "schema_version",
	"form_schema_version", "exported_by_user_id", "exported_at", "declared_checksum",
	"digital_signature", "status", "status_reason",
	"building_count", "unit_count", "person_count", "household_count",
	"relation_count", "evidence_count", "claim_count", "survey_count",
	"total_attachment_size_bytes", "has_conflicts", "vocab_compatible", "vocab_fully_compatible",
	"quarantine_path", "archive_path", "committed_at", "created_at", "updated_at",
}

// Repository handles import package persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new import package repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a newly received package
func (r *Repository) Create(ctx context.Context, pkg *models.ImportPackage) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.Create")
	defer span.End()

	if pkg.ID == "" {
		pkg.ID = uuid.New().String()
	}
	pkg.Status = models.PackageStatusReceived
	pkg.CreatedAt = time.Now().UTC()
	pkg.UpdatedAt = pkg.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("import_packages")
	sb.Cols(packageColumns...)
	sb.Values(
		pkg.ID, pkg.TenantID, pkg.PackageNumber, pkg.DeviceID, pkg.AppVersion, pkg.SchemaVersion,
		pkg.FormSchemaVersion, pkg.ExportedByUserID, pkg.ExportedAt, pkg.DeclaredChecksum,
		pkg.DigitalSignature, pkg.Status, pkg.StatusReason,
		pkg.BuildingCount, pkg.UnitCount, pkg.PersonCount, pkg.HouseholdCount,
		pkg.RelationCount, pkg.EvidenceCount, pkg.ClaimCount, pkg.SurveyCount,
		pkg.TotalAttachmentSizeBytes, pkg.HasConflicts, pkg.VocabCompatible, pkg.VocabFullyCompat,
		pkg.QuarantinePath, pkg.ArchivePath, pkg.CommittedAt, pkg.CreatedAt, pkg.UpdatedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"package_id": pkg.ID}).Error("Failed to create import package")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import package")
	}

	return pkg, nil
}

// Get retrieves an import package by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(packageColumns...)
	sb.From("import_packages")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var pkg models.ImportPackage
	if err := r.db.GetContext(ctx, &pkg, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("import package %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get import package")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import package")
	}

	return &pkg, nil
}

// List retrieves packages filtered by status, newest first
func (r *Repository) List(ctx context.Context, tenantID string, status models.PackageStatus, page, pageSize int) ([]models.ImportPackage, int, error) {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(packageColumns...)
	sb.From("import_packages")
	where := []string{sb.Equal("tenant_id", tenantID)}
	if status != "" {
		where = append(where, sb.Equal("status", status))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize)
	sb.Offset((page - 1) * pageSize)

	query, args := sb.Build()
	var items []models.ImportPackage
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list import packages")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import packages")
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)")
	cb.From("import_packages")
	cwhere := []string{cb.Equal("tenant_id", tenantID)}
	if status != "" {
		cwhere = append(cwhere, cb.Equal("status", status))
	}
	cb.Where(cwhere...)

	query, args = cb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count import packages")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count import packages")
	}

	return items, total, nil
}

// GetByPackageNumber looks a package up by its business number, used for
// duplicate-delivery detection
func (r *Repository) GetByPackageNumber(ctx context.Context, tenantID string, packageNumber string) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.GetByPackageNumber")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(packageColumns...)
	sb.From("import_packages")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("package_number", packageNumber),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var pkg models.ImportPackage
	if err := r.db.GetContext(ctx, &pkg, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get import package by number")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import package")
	}

	return &pkg, nil
}

// UpdateStatus advances the package workflow after validating the transition
func (r *Repository) UpdateStatus(ctx context.Context, tenantID string, id string, status models.PackageStatus, reason *string) error {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.UpdateStatus")
	defer span.End()

	current, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(status) {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("package %s cannot move from %s to %s", id, current.Status, status))
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("import_packages")
	assigns := []string{
		ub.Assign("status", status),
		ub.Assign("status_reason", reason),
		ub.Assign("updated_at", now),
	}
	if status == models.PackageStatusCompleted {
		assigns = append(assigns, ub.Assign("committed_at", now))
	}
	ub.Set(assigns...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"package_id": id, "status": status}).Error("Failed to update package status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update package status")
	}

	return nil
}

// SetManifestFields copies parsed manifest data onto the package row
func (r *Repository) SetManifestFields(ctx context.Context, tenantID string, id string, data *models.ManifestData) error {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.SetManifestFields")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("import_packages")
	ub.Set(
		ub.Assign("schema_version", data.SchemaVersion),
		ub.Assign("form_schema_version", data.FormSchemaVersion),
		ub.Assign("device_id", data.DeviceID),
		ub.Assign("app_version", data.AppVersion),
		ub.Assign("exported_by_user_id", data.ExportedByUserID),
		ub.Assign("exported_at", data.ExportedDateUTC),
		ub.Assign("declared_checksum", data.Checksum),
		ub.Assign("building_count", data.BuildingCount),
		ub.Assign("unit_count", data.UnitCount),
		ub.Assign("person_count", data.PersonCount),
		ub.Assign("household_count", data.HouseholdCount),
		ub.Assign("relation_count", data.RelationCount),
		ub.Assign("evidence_count", data.EvidenceCount),
		ub.Assign("claim_count", data.ClaimCount),
		ub.Assign("survey_count", data.SurveyCount),
		ub.Assign("total_attachment_size_bytes", data.TotalAttachmentSizeBytes),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"package_id": id}).Error("Failed to set manifest fields")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import package")
	}

	return nil
}

// SetVocabCompatibility records the vocabulary check outcome
func (r *Repository) SetVocabCompatibility(ctx context.Context, tenantID string, id string, compatible, fullyCompatible bool) error {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.SetVocabCompatibility")
	defer span.End()

	return r.setFlags(ctx, tenantID, id, map[string]any{
		"vocab_compatible":       compatible,
		"vocab_fully_compatible": fullyCompatible,
	})
}

// SetHasConflicts records whether duplicate detection raised conflicts
func (r *Repository) SetHasConflicts(ctx context.Context, tenantID string, id string, hasConflicts bool) error {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.SetHasConflicts")
	defer span.End()

	return r.setFlags(ctx, tenantID, id, map[string]any{"has_conflicts": hasConflicts})
}

// SetPaths records quarantine/archive file locations
func (r *Repository) SetPaths(ctx context.Context, tenantID string, id string, quarantinePath, archivePath *string) error {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.SetPaths")
	defer span.End()

	flags := map[string]any{}
	if quarantinePath != nil {
		flags["quarantine_path"] = *quarantinePath
	}
	if archivePath != nil {
		flags["archive_path"] = *archivePath
	}
	return r.setFlags(ctx, tenantID, id, flags)
}

// ListExpired returns terminal packages whose staging retention has elapsed
func (r *Repository) ListExpired(ctx context.Context, retentionDays int, limit int) ([]models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "importpackage.Repository.ListExpired")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	query := `
		SELECT ` + joinColumns() + `
		FROM import_packages
		WHERE status IN ('completed', 'failed', 'cancelled', 'rejected')
		AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	var items []models.ImportPackage
	if err := r.db.SelectContext(ctx, &items, query, cutoff, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list expired packages")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list expired packages")
	}

	return items, nil
}

func (r *Repository) setFlags(ctx context.Context, tenantID string, id string, flags map[string]any) error {
	if len(flags) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("import_packages")
	assigns := []string{ub.Assign("updated_at", now)}
	for col, val := range flags {
		assigns = append(assigns, ub.Assign(col, val))
	}
	ub.Set(assigns...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"package_id": id}).Error("Failed to update package flags")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import package")
	}

	return nil
}

func joinColumns() string {
	out := ""
	for i, col := range packageColumns {
		if i > 0 {
			out += ", "
		}
		out += col
	}
	return out
}
