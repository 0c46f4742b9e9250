// Package record writes committed entities into the system-of-record tables.
// Inserts run on the transaction carried in the context so a failing commit
// leaves no partial entities behind.
package record

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

// Repository handles committed entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// InsertBuilding commits a staged building and returns the server identifier
func (r *Repository) InsertBuilding(ctx context.Context, row *models.StagedBuilding) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertBuilding")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("buildings")
	sb.Cols("id", "tenant_id", "source_package_id", "original_id", "admin_code", "address", "latitude", "longitude", "floor_count", "unit_total", "building_type", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, row.OriginalID, row.AdminCode, row.Address, row.Latitude, row.Longitude, row.FloorCount, row.UnitTotal, row.BuildingType, time.Now().UTC())

	return id, r.exec(ctx, sb, "buildings")
}

// InsertUnit commits a staged unit. buildingID is the committed building's
// server identifier.
func (r *Repository) InsertUnit(ctx context.Context, row *models.StagedUnit, buildingID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertUnit")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("units")
	sb.Cols("id", "tenant_id", "source_package_id", "original_id", "building_id", "unit_number", "floor", "area_sqm", "unit_use", "occupancy_status", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, row.OriginalID, buildingID, row.UnitNumber, row.Floor, row.AreaSqm, row.UnitUse, row.OccupancyStatus, time.Now().UTC())

	return id, r.exec(ctx, sb, "units")
}

// InsertPerson commits a staged person
func (r *Repository) InsertPerson(ctx context.Context, row *models.StagedPerson) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertPerson")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("persons")
	sb.Cols("id", "tenant_id", "source_package_id", "original_id", "first_name", "last_name", "father_name", "national_id", "date_of_birth", "gender", "phone", "is_head_of_household", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, row.OriginalID, row.FirstName, row.LastName, row.FatherName, row.NationalID, row.DateOfBirth, row.Gender, row.Phone, row.IsHeadOfHousehold, time.Now().UTC())

	return id, r.exec(ctx, sb, "persons")
}

// InsertHousehold commits a staged household with remapped references
func (r *Repository) InsertHousehold(ctx context.Context, row *models.StagedHousehold, unitID, headPersonID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertHousehold")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("households")
	sb.Cols("id", "tenant_id", "source_package_id", "unit_id", "head_person_id", "member_total", "male_count", "female_count", "child_count", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, unitID, headPersonID, row.MemberTotal, row.MaleCount, row.FemaleCount, row.ChildCount, time.Now().UTC())

	return id, r.exec(ctx, sb, "households")
}

// InsertRelation commits a staged person-unit relation
func (r *Repository) InsertRelation(ctx context.Context, row *models.StagedRelation, personID, unitID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertRelation")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("relations")
	sb.Cols("id", "tenant_id", "source_package_id", "person_id", "unit_id", "relation_type", "start_date", "end_date", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, personID, unitID, row.RelationType, row.StartDate, row.EndDate, time.Now().UTC())

	return id, r.exec(ctx, sb, "relations")
}

// InsertEvidence commits a staged evidence document
func (r *Repository) InsertEvidence(ctx context.Context, row *models.StagedEvidence, personID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertEvidence")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("evidence_documents")
	sb.Cols("id", "tenant_id", "source_package_id", "person_id", "evidence_type", "document_number", "issued_date", "attachment_ref", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, personID, row.EvidenceType, row.DocumentNumber, row.IssuedDate, row.AttachmentRef, time.Now().UTC())

	return id, r.exec(ctx, sb, "evidence_documents")
}

// InsertClaim commits a staged ownership claim
func (r *Repository) InsertClaim(ctx context.Context, row *models.StagedClaim, personID, unitID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertClaim")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("claims")
	sb.Cols("id", "tenant_id", "source_package_id", "person_id", "unit_id", "claim_type", "ownership_share", "contract_type", "contract_number", "contract_date", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, personID, unitID, row.ClaimType, row.OwnershipShare, row.ContractType, row.ContractNumber, row.ContractDate, time.Now().UTC())

	return id, r.exec(ctx, sb, "claims")
}

// InsertSurvey commits a staged survey event
func (r *Repository) InsertSurvey(ctx context.Context, row *models.StagedSurvey, buildingID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.InsertSurvey")
	defer span.End()

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("surveys")
	sb.Cols("id", "tenant_id", "source_package_id", "building_id", "surveyor_user_id", "survey_date", "notes", "latitude", "longitude", "created_at")
	sb.Values(id, row.TenantID, row.PackageID, buildingID, row.SurveyorUserID, row.SurveyDate, row.Notes, row.Latitude, row.Longitude, time.Now().UTC())

	return id, r.exec(ctx, sb, "surveys")
}

// CommittedPerson is the slice of a committed person compared against staged
// rows during duplicate detection
type CommittedPerson struct {
	ID          string     `db:"id"`
	FirstName   string     `db:"first_name"`
	LastName    string     `db:"last_name"`
	FatherName  *string    `db:"father_name"`
	NationalID  *string    `db:"national_id"`
	DateOfBirth *time.Time `db:"date_of_birth"`
	Gender      *int       `db:"gender"`
}

// SearchCommittedPersons narrows the committed population to plausible
// duplicate candidates: a matching national id, or a close last name. Full
// scoring happens in memory afterwards.
func (r *Repository) SearchCommittedPersons(ctx context.Context, tenantID string, nationalID *string, lastName string, limit int) ([]CommittedPerson, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.SearchCommittedPersons")
	defer span.End()

	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, first_name, last_name, father_name, national_id, date_of_birth, gender
		FROM persons
		WHERE tenant_id = $1
		AND (($2::text IS NOT NULL AND national_id = $2) OR LOWER(last_name) = LOWER($3))
		LIMIT $4
	`

	var items []CommittedPerson
	if err := r.db.SelectContext(ctx, &items, query, tenantID, nationalID, lastName, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to search committed persons")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to search committed persons")
	}

	return items, nil
}

// committedTables maps the referenceable families to their system-of-record
// tables
var committedTables = map[models.EntityFamily]string{
	models.FamilyBuilding: "buildings",
	models.FamilyUnit:     "units",
	models.FamilyPerson:   "persons",
}

// FindCommittedIDs resolves original (device-generated) identifiers against
// the committed tables. Delta packages reference entities committed by
// earlier packages; the returned map holds original id -> server id for every
// match, and unknown ids are simply absent.
func (r *Repository) FindCommittedIDs(ctx context.Context, tenantID string, family models.EntityFamily, originalIDs []string) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.FindCommittedIDs")
	defer span.End()

	table, ok := committedTables[family]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("family %s is not referenceable", family))
	}
	if len(originalIDs) == 0 {
		return map[string]string{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("original_id", "id")
	sb.From(table)
	anyIDs := make([]any, len(originalIDs))
	for i, id := range originalIDs {
		anyIDs[i] = id
	}
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("original_id", anyIDs...),
	)

	query, args := sb.Build()
	var found []struct {
		OriginalID string `db:"original_id"`
		ID         string `db:"id"`
	}
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to resolve committed identifiers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve committed identifiers")
	}

	out := make(map[string]string, len(found))
	for _, row := range found {
		out[row.OriginalID] = row.ID
	}
	return out, nil
}

func (r *Repository) exec(ctx context.Context, sb *sqlbuilder.InsertBuilder, table string) error {
	parent := ctx
	joined := database.InTransaction(ctx)
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	if !joined {
		// rollback with the parent context so it is not suppressed by the
		// open-transaction marker on ctx
		defer tx.Rollback(parent)
	}

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to insert committed entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert committed entity")
	}

	if joined {
		// the caller owns the transaction
		return nil
	}
	return tx.Commit(ctx)
}
