package models

import (
	"fmt"
	"time"
)

// TransferStatus is the device-transfer lifecycle status of an assignment
type TransferStatus string

const (
	TransferStatusPending         TransferStatus = "pending"
	TransferStatusInProgress      TransferStatus = "in_progress"
	TransferStatusTransferred     TransferStatus = "transferred"
	TransferStatusFailed          TransferStatus = "failed"
	TransferStatusCancelled       TransferStatus = "cancelled"
	TransferStatusPartialTransfer TransferStatus = "partial_transfer"
	TransferStatusSynchronized    TransferStatus = "synchronized"
)

// Transition validates a transfer status change. Failed returns to Pending on
// retry; Transferred advances to Synchronized once the device acknowledges;
// PartialTransfer goes back through InProgress when the delta is pushed.
func (s TransferStatus) Transition(next TransferStatus) (TransferStatus, error) {
	ok := false
	switch s {
	case TransferStatusPending:
		ok = next == TransferStatusInProgress || next == TransferStatusCancelled
	case TransferStatusInProgress:
		ok = next == TransferStatusTransferred || next == TransferStatusFailed || next == TransferStatusPartialTransfer
	case TransferStatusFailed:
		ok = next == TransferStatusPending || next == TransferStatusCancelled
	case TransferStatusTransferred:
		ok = next == TransferStatusSynchronized
	case TransferStatusPartialTransfer:
		ok = next == TransferStatusInProgress || next == TransferStatusSynchronized || next == TransferStatusCancelled
	}
	if !ok {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// BuildingAssignment is a unit of field work handed to a collector.
// Revisit chains use ParentAssignmentID; assignments are superseded, never
// deleted.
type BuildingAssignment struct {
	ID                 string         `json:"id" db:"id"`
	TenantID           string         `json:"tenant_id" db:"tenant_id"`
	CollectorUserID    string         `json:"collector_user_id" db:"collector_user_id"`
	BuildingID         string         `json:"building_id" db:"building_id"`
	ParentAssignmentID *string        `json:"parent_assignment_id,omitempty" db:"parent_assignment_id"`
	Status             TransferStatus `json:"status" db:"status"`
	RetryCount         int            `json:"retry_count" db:"retry_count"`
	LastAttemptAt      *time.Time     `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	ErrorMessage       *string        `json:"error_message,omitempty" db:"error_message"`
	AcknowledgedAt     *time.Time     `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// CreateAssignmentRequest is the request to assign a building to a collector
type CreateAssignmentRequest struct {
	CollectorUserID    string  `json:"collector_user_id" validate:"required"`
	BuildingID         string  `json:"building_id" validate:"required"`
	ParentAssignmentID *string `json:"parent_assignment_id,omitempty"`
}

// AcknowledgeTransferRequest is sent by a device after it receives assignments
type AcknowledgeTransferRequest struct {
	AssignmentIDs []string `json:"assignment_ids" validate:"required,min=1"`
	Partial       bool     `json:"partial"`
	ErrorMessage  *string  `json:"error_message,omitempty"`
}

// AssignmentListResponse is the response for listing assignments
type AssignmentListResponse struct {
	Items      []BuildingAssignment `json:"items"`
	TotalCount int                  `json:"total_count"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
}
