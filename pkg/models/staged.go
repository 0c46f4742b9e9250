package models

import (
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

// ValidationStatus is the lifecycle status of a staged record
type ValidationStatus string

const (
	ValidationStatusPending           ValidationStatus = "pending"
	ValidationStatusValid             ValidationStatus = "valid"
	ValidationStatusInvalid           ValidationStatus = "invalid"
	ValidationStatusApprovedForCommit ValidationStatus = "approved_for_commit"
	ValidationStatusCommitted         ValidationStatus = "committed"
	ValidationStatusRejected          ValidationStatus = "rejected" // losing side of a conflict resolution
)

// Transition validates a staged-record status change. Invalid records may be
// corrected back to Pending; Committed and Rejected are terminal.
func (s ValidationStatus) Transition(next ValidationStatus) (ValidationStatus, error) {
	ok := false
	switch s {
	case ValidationStatusPending:
		ok = next == ValidationStatusValid || next == ValidationStatusInvalid
	case ValidationStatusValid:
		ok = next == ValidationStatusApprovedForCommit || next == ValidationStatusPending || next == ValidationStatusRejected
	case ValidationStatusInvalid:
		ok = next == ValidationStatusPending
	case ValidationStatusApprovedForCommit:
		ok = next == ValidationStatusCommitted || next == ValidationStatusPending || next == ValidationStatusRejected
	}
	if !ok {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// EntityFamily names one staged table / entity type
type EntityFamily string

const (
	FamilyBuilding  EntityFamily = "building"
	FamilyUnit      EntityFamily = "unit"
	FamilyPerson    EntityFamily = "person"
	FamilyHousehold EntityFamily = "household"
	FamilyRelation  EntityFamily = "relation"
	FamilyEvidence  EntityFamily = "evidence"
	FamilyClaim     EntityFamily = "claim"
	FamilySurvey    EntityFamily = "survey"
)

// CommitOrder is the fixed dependency order families are promoted in
var CommitOrder = []EntityFamily{
	FamilyBuilding,
	FamilyUnit,
	FamilyPerson,
	FamilyHousehold,
	FamilyRelation,
	FamilyEvidence,
	FamilyClaim,
	FamilySurvey,
}

// StagedHeader is the common header shared by every staged family.
// OriginalID is the identifier the record carried in the package; it is not a
// foreign key into the system of record. CommittedEntityID is set exactly once
// by the commit engine.
type StagedHeader struct {
	ID                string                  `json:"id" db:"id"`
	TenantID          string                  `json:"tenant_id" db:"tenant_id"`
	PackageID         string                  `json:"package_id" db:"package_id"`
	OriginalID        string                  `json:"original_id" db:"original_id"`
	Status            ValidationStatus        `json:"status" db:"status"`
	Errors            database.JSONB[[]string] `json:"errors" db:"errors"`
	Warnings          database.JSONB[[]string] `json:"warnings" db:"warnings"`
	ApprovedForCommit bool                    `json:"approved_for_commit" db:"approved_for_commit"`
	ApprovedBy        *string                 `json:"approved_by,omitempty" db:"approved_by"`
	CommittedEntityID *string                 `json:"committed_entity_id,omitempty" db:"committed_entity_id"`
	CreatedAt         time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at" db:"updated_at"`
}

// GetHeader lets the generic staging store and validators reach the header
// without knowing the concrete family shape
func (h *StagedHeader) GetHeader() *StagedHeader { return h }

// StagedRow is implemented by every staged family struct
type StagedRow interface {
	GetHeader() *StagedHeader
	Family() EntityFamily
}

// StagedBuilding is a building proposed for import
type StagedBuilding struct {
	StagedHeader
	AdminCode    string   `json:"admin_code" db:"admin_code"`
	Address      *string  `json:"address,omitempty" db:"address"`
	Latitude     *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64 `json:"longitude,omitempty" db:"longitude"`
	FloorCount   int      `json:"floor_count" db:"floor_count"`
	UnitTotal    int      `json:"unit_total" db:"unit_total"`
	BuildingType *int     `json:"building_type,omitempty" db:"building_type"`
}

func (s *StagedBuilding) Family() EntityFamily { return FamilyBuilding }

// StagedUnit is a property unit inside a building
type StagedUnit struct {
	StagedHeader
	BuildingOriginalID string  `json:"building_original_id" db:"building_original_id"`
	UnitNumber         string  `json:"unit_number" db:"unit_number"`
	Floor              *int    `json:"floor,omitempty" db:"floor"`
	AreaSqm            *float64 `json:"area_sqm,omitempty" db:"area_sqm"`
	UnitUse            *int    `json:"unit_use,omitempty" db:"unit_use"`
	OccupancyStatus    *int    `json:"occupancy_status,omitempty" db:"occupancy_status"`
}

func (s *StagedUnit) Family() EntityFamily { return FamilyUnit }

// StagedPerson is a person record proposed for import
type StagedPerson struct {
	StagedHeader
	FirstName    string     `json:"first_name" db:"first_name"`
	LastName     string     `json:"last_name" db:"last_name"`
	FatherName   *string    `json:"father_name,omitempty" db:"father_name"`
	NationalID   *string    `json:"national_id,omitempty" db:"national_id"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Gender       *int       `json:"gender,omitempty" db:"gender"`
	Phone        *string    `json:"phone,omitempty" db:"phone"`
	IsHeadOfHousehold bool  `json:"is_head_of_household" db:"is_head_of_household"`
}

func (s *StagedPerson) Family() EntityFamily { return FamilyPerson }

// StagedHousehold groups persons occupying a unit
type StagedHousehold struct {
	StagedHeader
	UnitOriginalID       string `json:"unit_original_id" db:"unit_original_id"`
	HeadPersonOriginalID string `json:"head_person_original_id" db:"head_person_original_id"`
	MemberTotal          int    `json:"member_total" db:"member_total"`
	MaleCount            int    `json:"male_count" db:"male_count"`
	FemaleCount          int    `json:"female_count" db:"female_count"`
	ChildCount           int    `json:"child_count" db:"child_count"`
}

func (s *StagedHousehold) Family() EntityFamily { return FamilyHousehold }

// StagedRelation links a person to a unit (tenure, residency)
type StagedRelation struct {
	StagedHeader
	PersonOriginalID string     `json:"person_original_id" db:"person_original_id"`
	UnitOriginalID   string     `json:"unit_original_id" db:"unit_original_id"`
	RelationType     int        `json:"relation_type" db:"relation_type"`
	StartDate        *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate          *time.Time `json:"end_date,omitempty" db:"end_date"`
}

func (s *StagedRelation) Family() EntityFamily { return FamilyRelation }

// StagedEvidence is a supporting document attached to a person
type StagedEvidence struct {
	StagedHeader
	PersonOriginalID string     `json:"person_original_id" db:"person_original_id"`
	EvidenceType     int        `json:"evidence_type" db:"evidence_type"`
	DocumentNumber   *string    `json:"document_number,omitempty" db:"document_number"`
	IssuedDate       *time.Time `json:"issued_date,omitempty" db:"issued_date"`
	AttachmentRef    *string    `json:"attachment_ref,omitempty" db:"attachment_ref"`
}

func (s *StagedEvidence) Family() EntityFamily { return FamilyEvidence }

// ContractType values with extra required fields in Level 3 validation
const (
	ContractTypeRental   = 2
	ContractTypePurchase = 3
)

// StagedClaim is an ownership/tenure claim by a person on a unit
type StagedClaim struct {
	StagedHeader
	PersonOriginalID string     `json:"person_original_id" db:"person_original_id"`
	UnitOriginalID   string     `json:"unit_original_id" db:"unit_original_id"`
	ClaimType        int        `json:"claim_type" db:"claim_type"`
	OwnershipShare   float64    `json:"ownership_share" db:"ownership_share"`
	ContractType     *int       `json:"contract_type,omitempty" db:"contract_type"`
	ContractNumber   *string    `json:"contract_number,omitempty" db:"contract_number"`
	ContractDate     *time.Time `json:"contract_date,omitempty" db:"contract_date"`
}

func (s *StagedClaim) Family() EntityFamily { return FamilyClaim }

// StagedSurvey is the field survey event that produced a building's data
type StagedSurvey struct {
	StagedHeader
	BuildingOriginalID string     `json:"building_original_id" db:"building_original_id"`
	SurveyorUserID     string     `json:"surveyor_user_id" db:"surveyor_user_id"`
	SurveyDate         *time.Time `json:"survey_date,omitempty" db:"survey_date"`
	Notes              *string    `json:"notes,omitempty" db:"notes"`
	Latitude           *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude          *float64   `json:"longitude,omitempty" db:"longitude"`
}

func (s *StagedSurvey) Family() EntityFamily { return FamilySurvey }

// ValidationRunResult summarizes one validator pass over a package
type ValidationRunResult struct {
	Level          int           `json:"level"`
	ErrorCount     int           `json:"error_count"`
	WarningCount   int           `json:"warning_count"`
	RecordsChecked int           `json:"records_checked"`
	Duration       time.Duration `json:"duration_ms"`
}

// RecordIssue is one staged record's validation findings, flattened for the
// package errors endpoint
type RecordIssue struct {
	Family     EntityFamily     `json:"family"`
	RecordID   string           `json:"record_id"`
	OriginalID string           `json:"original_id"`
	Status     ValidationStatus `json:"status"`
	Errors     []string         `json:"errors,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// StagedListResponse is the response for listing staged records of one family
type StagedListResponse[T StagedRow] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
}
