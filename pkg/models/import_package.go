package models

import (
	"time"
)

// PackageStatus is the workflow status of an import package
type PackageStatus string

const (
	PackageStatusReceived      PackageStatus = "received"
	PackageStatusVerified      PackageStatus = "verified"
	PackageStatusStaged        PackageStatus = "staged"
	PackageStatusValidated     PackageStatus = "validated"
	PackageStatusReadyToCommit PackageStatus = "ready_to_commit"
	PackageStatusCommitting    PackageStatus = "committing"
	PackageStatusCompleted     PackageStatus = "completed"
	PackageStatusFailed        PackageStatus = "failed"
	PackageStatusCancelled     PackageStatus = "cancelled"
	PackageStatusRejected      PackageStatus = "rejected"
)

// packageTransitions lists the legal forward edges of the package workflow.
// Rejected is reachable from every pre-commit stage; Failed from any non-terminal.
var packageTransitions = map[PackageStatus][]PackageStatus{
	PackageStatusReceived:      {PackageStatusVerified, PackageStatusRejected, PackageStatusFailed, PackageStatusCancelled},
	PackageStatusVerified:      {PackageStatusStaged, PackageStatusRejected, PackageStatusFailed, PackageStatusCancelled},
	PackageStatusStaged:        {PackageStatusValidated, PackageStatusRejected, PackageStatusFailed, PackageStatusCancelled},
	PackageStatusValidated:     {PackageStatusReadyToCommit, PackageStatusStaged, PackageStatusRejected, PackageStatusFailed, PackageStatusCancelled},
	PackageStatusReadyToCommit: {PackageStatusCommitting, PackageStatusValidated, PackageStatusCancelled},
	PackageStatusCommitting:    {PackageStatusCompleted, PackageStatusFailed},
}

// CanTransition reports whether a package may move from to next
func (s PackageStatus) CanTransition(next PackageStatus) bool {
	for _, allowed := range packageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the package workflow
func (s PackageStatus) IsTerminal() bool {
	switch s {
	case PackageStatusCompleted, PackageStatusFailed, PackageStatusCancelled, PackageStatusRejected:
		return true
	}
	return false
}

// ImportPackage is one uploaded field package moving through the pipeline
type ImportPackage struct {
	ID                string        `json:"id" db:"id"`
	TenantID          string        `json:"tenant_id" db:"tenant_id"`
	PackageNumber     string        `json:"package_number" db:"package_number"`
	DeviceID          string        `json:"device_id" db:"device_id"`
	AppVersion        string        `json:"app_version,omitempty" db:"app_version"`
	SchemaVersion     string        `json:"schema_version" db:"schema_version"`
	FormSchemaVersion string        `json:"form_schema_version,omitempty" db:"form_schema_version"`
	ExportedByUserID  string        `json:"exported_by_user_id" db:"exported_by_user_id"`
	ExportedAt        time.Time     `json:"exported_at" db:"exported_at"`
	DeclaredChecksum  string        `json:"declared_checksum" db:"declared_checksum"`
	DigitalSignature  *string       `json:"digital_signature,omitempty" db:"digital_signature"`
	Status            PackageStatus `json:"status" db:"status"`
	StatusReason      *string       `json:"status_reason,omitempty" db:"status_reason"`

	// Entity counts declared by the manifest
	BuildingCount  int `json:"building_count" db:"building_count"`
	UnitCount      int `json:"unit_count" db:"unit_count"`
	PersonCount    int `json:"person_count" db:"person_count"`
	HouseholdCount int `json:"household_count" db:"household_count"`
	RelationCount  int `json:"relation_count" db:"relation_count"`
	EvidenceCount  int `json:"evidence_count" db:"evidence_count"`
	ClaimCount     int `json:"claim_count" db:"claim_count"`
	SurveyCount    int `json:"survey_count" db:"survey_count"`

	TotalAttachmentSizeBytes int64 `json:"total_attachment_size_bytes" db:"total_attachment_size_bytes"`

	HasConflicts     bool `json:"has_conflicts" db:"has_conflicts"`
	VocabCompatible  bool `json:"vocab_compatible" db:"vocab_compatible"`
	VocabFullyCompat bool `json:"vocab_fully_compatible" db:"vocab_fully_compatible"`

	QuarantinePath *string    `json:"quarantine_path,omitempty" db:"quarantine_path"`
	ArchivePath    *string    `json:"archive_path,omitempty" db:"archive_path"`
	CommittedAt    *time.Time `json:"committed_at,omitempty" db:"committed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ManifestData is the parsed manifest table of a package container. Transient:
// parsed fresh each time it is needed, its fields are copied onto ImportPackage.
type ManifestData struct {
	PackageID         string
	SchemaVersion     string
	CreatedUTC        time.Time
	DeviceID          string
	AppVersion        string
	ExportedByUserID  string
	ExportedDateUTC   time.Time
	Checksum          string
	DigitalSignature  string
	FormSchemaVersion string

	BuildingCount  int
	UnitCount      int
	PersonCount    int
	HouseholdCount int
	RelationCount  int
	EvidenceCount  int
	ClaimCount     int
	SurveyCount    int

	TotalAttachmentSizeBytes int64
	VocabVersions            map[string]string
}

// PackageStatusResponse is returned by the package status endpoint
type PackageStatusResponse struct {
	Package       *ImportPackage `json:"package"`
	StagedCounts  map[string]int `json:"staged_counts"`
	ErrorCount    int            `json:"error_count"`
	WarningCount  int            `json:"warning_count"`
	OpenConflicts int            `json:"open_conflicts"`
}

// PackageListResponse is the response for listing import packages
type PackageListResponse struct {
	Items      []ImportPackage `json:"items"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}
