package models

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

// AuditEntry records who did what to which pipeline object
type AuditEntry struct {
	ID         string                        `json:"id" db:"id"`
	TenantID   string                        `json:"tenant_id" db:"tenant_id"`
	ActorID    string                        `json:"actor_id" db:"actor_id"`
	Action     string                        `json:"action" db:"action"`
	ObjectType string                        `json:"object_type" db:"object_type"`
	ObjectID   string                        `json:"object_id" db:"object_id"`
	Detail     database.JSONB[map[string]any] `json:"detail" db:"detail"`
	CreatedAt  time.Time                     `json:"created_at" db:"created_at"`
}

// Audit action names
const (
	AuditActionPackageUploaded   = "package.uploaded"
	AuditActionPackageRejected   = "package.rejected"
	AuditActionPackageCancelled  = "package.cancelled"
	AuditActionRecordApproved    = "record.approved"
	AuditActionRecordCorrected   = "record.corrected"
	AuditActionConflictResolved  = "conflict.resolved"
	AuditActionConflictEscalated = "conflict.escalated"
	AuditActionConflictAssigned  = "conflict.assigned"
	AuditActionPackageCommitted  = "package.committed"
)
