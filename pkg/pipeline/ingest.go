package pipeline

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/Ramsey-B/clover/pkg/container"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Container data table names, one per entity family
const (
	tableBuildings  = "buildings"
	tableUnits      = "units"
	tablePersons    = "persons"
	tableHouseholds = "households"
	tableRelations  = "relations"
	tableEvidence   = "evidence"
	tableClaims     = "claims"
	tableSurveys    = "surveys"
)

// batchCreator is the staging-store slice ingest writes through
type batchCreator[T models.StagedRow] interface {
	CreateBatch(ctx context.Context, rows []T) error
}

// ingestFamily decodes one container data table into staged rows. A package
// without the table contributes zero rows for that family.
func ingestFamily[T models.StagedRow](ctx context.Context, c *container.Container, table string, store batchCreator[T], decode func(map[string]sql.NullString) T) (int, error) {
	ok, err := c.HasTable(ctx, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	raw, err := c.SelectAll(ctx, table)
	if err != nil {
		return 0, err
	}

	rows := make([]T, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, decode(r))
	}

	if err := store.CreateBatch(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func header(tenantID, packageID string, row map[string]sql.NullString) models.StagedHeader {
	return models.StagedHeader{
		TenantID:   tenantID,
		PackageID:  packageID,
		OriginalID: str(row, "id"),
	}
}

func decodeBuilding(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedBuilding {
	return func(row map[string]sql.NullString) *models.StagedBuilding {
		return &models.StagedBuilding{
			StagedHeader: header(tenantID, packageID, row),
			AdminCode:    str(row, "admin_code"),
			Address:      strPtr(row, "address"),
			Latitude:     floatPtr(row, "latitude"),
			Longitude:    floatPtr(row, "longitude"),
			FloorCount:   intVal(row, "floor_count"),
			UnitTotal:    intVal(row, "unit_total"),
			BuildingType: intPtr(row, "building_type"),
		}
	}
}

func decodeUnit(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedUnit {
	return func(row map[string]sql.NullString) *models.StagedUnit {
		return &models.StagedUnit{
			StagedHeader:       header(tenantID, packageID, row),
			BuildingOriginalID: str(row, "building_id"),
			UnitNumber:         str(row, "unit_number"),
			Floor:              intPtr(row, "floor"),
			AreaSqm:            floatPtr(row, "area_sqm"),
			UnitUse:            intPtr(row, "unit_use"),
			OccupancyStatus:    intPtr(row, "occupancy_status"),
		}
	}
}

func decodePerson(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedPerson {
	return func(row map[string]sql.NullString) *models.StagedPerson {
		return &models.StagedPerson{
			StagedHeader:      header(tenantID, packageID, row),
			FirstName:         str(row, "first_name"),
			LastName:          str(row, "last_name"),
			FatherName:        strPtr(row, "father_name"),
			NationalID:        strPtr(row, "national_id"),
			DateOfBirth:       timePtr(row, "date_of_birth"),
			Gender:            intPtr(row, "gender"),
			Phone:             strPtr(row, "phone"),
			IsHeadOfHousehold: boolVal(row, "is_head_of_household"),
		}
	}
}

func decodeHousehold(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedHousehold {
	return func(row map[string]sql.NullString) *models.StagedHousehold {
		return &models.StagedHousehold{
			StagedHeader:         header(tenantID, packageID, row),
			UnitOriginalID:       str(row, "unit_id"),
			HeadPersonOriginalID: str(row, "head_person_id"),
			MemberTotal:          intVal(row, "member_total"),
			MaleCount:            intVal(row, "male_count"),
			FemaleCount:          intVal(row, "female_count"),
			ChildCount:           intVal(row, "child_count"),
		}
	}
}

func decodeRelation(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedRelation {
	return func(row map[string]sql.NullString) *models.StagedRelation {
		return &models.StagedRelation{
			StagedHeader:     header(tenantID, packageID, row),
			PersonOriginalID: str(row, "person_id"),
			UnitOriginalID:   str(row, "unit_id"),
			RelationType:     intVal(row, "relation_type"),
			StartDate:        timePtr(row, "start_date"),
			EndDate:          timePtr(row, "end_date"),
		}
	}
}

func decodeEvidence(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedEvidence {
	return func(row map[string]sql.NullString) *models.StagedEvidence {
		return &models.StagedEvidence{
			StagedHeader:     header(tenantID, packageID, row),
			PersonOriginalID: str(row, "person_id"),
			EvidenceType:     intVal(row, "evidence_type"),
			DocumentNumber:   strPtr(row, "document_number"),
			IssuedDate:       timePtr(row, "issued_date"),
			AttachmentRef:    strPtr(row, "attachment_ref"),
		}
	}
}

func decodeClaim(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedClaim {
	return func(row map[string]sql.NullString) *models.StagedClaim {
		return &models.StagedClaim{
			StagedHeader:     header(tenantID, packageID, row),
			PersonOriginalID: str(row, "person_id"),
			UnitOriginalID:   str(row, "unit_id"),
			ClaimType:        intVal(row, "claim_type"),
			OwnershipShare:   floatVal(row, "ownership_share"),
			ContractType:     intPtr(row, "contract_type"),
			ContractNumber:   strPtr(row, "contract_number"),
			ContractDate:     timePtr(row, "contract_date"),
		}
	}
}

func decodeSurvey(tenantID, packageID string) func(map[string]sql.NullString) *models.StagedSurvey {
	return func(row map[string]sql.NullString) *models.StagedSurvey {
		return &models.StagedSurvey{
			StagedHeader:       header(tenantID, packageID, row),
			BuildingOriginalID: str(row, "building_id"),
			SurveyorUserID:     str(row, "surveyor_user_id"),
			SurveyDate:         timePtr(row, "survey_date"),
			Notes:              strPtr(row, "notes"),
			Latitude:           floatPtr(row, "latitude"),
			Longitude:          floatPtr(row, "longitude"),
		}
	}
}

// Column value coercion. Container values are untyped text; absent or NULL
// columns coerce to the zero value, optional columns to nil.

func str(row map[string]sql.NullString, col string) string {
	v := row[col]
	if !v.Valid {
		return ""
	}
	return v.String
}

func strPtr(row map[string]sql.NullString, col string) *string {
	v := row[col]
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func intVal(row map[string]sql.NullString, col string) int {
	v := row[col]
	if !v.Valid {
		return 0
	}
	n, _ := strconv.Atoi(v.String)
	return n
}

func intPtr(row map[string]sql.NullString, col string) *int {
	v := row[col]
	if !v.Valid || v.String == "" {
		return nil
	}
	n, err := strconv.Atoi(v.String)
	if err != nil {
		return nil
	}
	return &n
}

func floatVal(row map[string]sql.NullString, col string) float64 {
	v := row[col]
	if !v.Valid {
		return 0
	}
	f, _ := strconv.ParseFloat(v.String, 64)
	return f
}

func floatPtr(row map[string]sql.NullString, col string) *float64 {
	v := row[col]
	if !v.Valid || v.String == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v.String, 64)
	if err != nil {
		return nil
	}
	return &f
}

func boolVal(row map[string]sql.NullString, col string) bool {
	v := row[col]
	if !v.Valid {
		return false
	}
	switch v.String {
	case "1", "true", "TRUE", "True":
		return true
	}
	return false
}

// timePtr accepts RFC3339 plus the exporter's space-separated and date-only
// fallbacks
func timePtr(row map[string]sql.NullString, col string) *time.Time {
	v := row[col]
	if !v.Valid || v.String == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v.String); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
