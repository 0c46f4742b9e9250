package models

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

// ConflictStatus is the review status of a conflict pair
type ConflictStatus string

const (
	ConflictStatusPendingReview ConflictStatus = "pending_review"
	ConflictStatusResolved      ConflictStatus = "resolved"
	ConflictStatusIgnored       ConflictStatus = "ignored"
	ConflictStatusEscalated     ConflictStatus = "escalated"
)

// ConflictAction is the resolution action taken by a reviewer
type ConflictAction string

const (
	ConflictActionKeepBoth        ConflictAction = "keep_both"
	ConflictActionMerge           ConflictAction = "merge"
	ConflictActionKeepFirst       ConflictAction = "keep_first"
	ConflictActionKeepSecond      ConflictAction = "keep_second"
	ConflictActionMarkAsDuplicate ConflictAction = "mark_as_duplicate"
	ConflictActionEscalate        ConflictAction = "escalate"
	ConflictActionIgnored         ConflictAction = "ignored"
)

// ConflictType classifies what kind of overlap was detected
type ConflictType string

const (
	ConflictTypeDuplicatePerson  ConflictType = "duplicate_person"
	ConflictTypeOverlappingClaim ConflictType = "overlapping_claim"
)

// ConflictPriority buckets conflicts for the review queue
const (
	ConflictPriorityHigh   = "high"
	ConflictPriorityMedium = "medium"
)

// ConflictResolution is one suspected duplicate/overlap between two entities.
// The pair is order-independent: (A,B) and (B,A) identify the same conflict.
// EntityBCommitted marks pairs where B is an already-committed record rather
// than a staged one.
type ConflictResolution struct {
	ID               string         `json:"id" db:"id"`
	TenantID         string         `json:"tenant_id" db:"tenant_id"`
	PackageID        string         `json:"package_id" db:"package_id"`
	EntityType       EntityFamily   `json:"entity_type" db:"entity_type"`
	ConflictType     ConflictType   `json:"conflict_type" db:"conflict_type"`
	EntityAID        string         `json:"entity_a_id" db:"entity_a_id"`
	EntityBID        string         `json:"entity_b_id" db:"entity_b_id"`
	EntityBCommitted bool           `json:"entity_b_committed" db:"entity_b_committed"`
	SimilarityScore  float64        `json:"similarity_score" db:"similarity_score"`
	FieldScores      database.JSONB[map[string]float64] `json:"field_scores" db:"field_scores"`
	Status           ConflictStatus `json:"status" db:"status"`
	Priority         string         `json:"priority" db:"priority"`
	AssignedTo       *string        `json:"assigned_to,omitempty" db:"assigned_to"`
	Action           *ConflictAction `json:"action,omitempty" db:"action"`
	SurvivingID      *string        `json:"surviving_id,omitempty" db:"surviving_id"`
	DiscardedID      *string        `json:"discarded_id,omitempty" db:"discarded_id"`
	ResolvedBy       *string        `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	EscalatedAt      *time.Time     `json:"escalated_at,omitempty" db:"escalated_at"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// ResolveConflictRequest is the request body for resolving a conflict
type ResolveConflictRequest struct {
	Action      ConflictAction `json:"action" validate:"required,oneof=keep_both merge keep_first keep_second mark_as_duplicate escalate ignored"`
	SurvivingID *string        `json:"surviving_id,omitempty"`
	DiscardedID *string        `json:"discarded_id,omitempty"`
	Note        *string        `json:"note,omitempty"`
}

// AssignConflictRequest assigns a conflict to a reviewer
type AssignConflictRequest struct {
	AssignedTo string `json:"assigned_to" validate:"required"`
}

// ConflictListResponse is the response for listing conflicts
type ConflictListResponse struct {
	Items      []ConflictResolution `json:"items"`
	TotalCount int                  `json:"total_count"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
}
