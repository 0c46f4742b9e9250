package models

import "time"

// CompatLevel is the per-domain outcome of a vocabulary version comparison
type CompatLevel string

const (
	CompatIdentical       CompatLevel = "identical"
	CompatPatchDifference CompatLevel = "patch_difference"
	CompatMinorDifference CompatLevel = "minor_difference"
	CompatMajorDifference CompatLevel = "major_difference"
	CompatUnknownDomain   CompatLevel = "unknown_domain"
)

// DomainVerdict is the comparison result for one vocabulary domain
type DomainVerdict struct {
	Domain         string      `json:"domain"`
	PackageVersion string      `json:"package_version"`
	ServerVersion  string      `json:"server_version,omitempty"`
	Level          CompatLevel `json:"level"`
}

// CompatReport is the overall vocabulary compatibility result for a package.
// IsCompatible gates import (false on any major difference); FullyCompatible
// is the no-caveats signal (false on minor differences and unknown domains).
type CompatReport struct {
	IsCompatible    bool            `json:"is_compatible"`
	FullyCompatible bool            `json:"fully_compatible"`
	Items           []DomainVerdict `json:"items"`
}

// VocabularyVersion is one versioned controlled list of codes. Version history
// is a parent-id chain; the current row per domain has no superseding child.
type VocabularyVersion struct {
	ID              string     `json:"id" db:"id"`
	TenantID        string     `json:"tenant_id" db:"tenant_id"`
	Domain          string     `json:"domain" db:"domain"`
	Version         string     `json:"version" db:"version"`
	ParentVersionID *string    `json:"parent_version_id,omitempty" db:"parent_version_id"`
	IsCurrent       bool       `json:"is_current" db:"is_current"`
	PublishedAt     *time.Time `json:"published_at,omitempty" db:"published_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// VocabularyCode is one valid code inside a vocabulary version
type VocabularyCode struct {
	ID        string `json:"id" db:"id"`
	VersionID string `json:"version_id" db:"version_id"`
	Code      int    `json:"code" db:"code"`
	Label     string `json:"label" db:"label"`
}
