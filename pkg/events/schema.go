package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event
type EventType string

const (
	// Package lifecycle events
	EventTypePackageReceived  EventType = "package.received"
	EventTypePackageVerified  EventType = "package.verified"
	EventTypePackageStaged    EventType = "package.staged"
	EventTypePackageValidated EventType = "package.validated"
	EventTypePackageReady     EventType = "package.ready_to_commit"
	EventTypePackageCommitted EventType = "package.committed"
	EventTypePackageFailed    EventType = "package.failed"
	EventTypePackageRejected  EventType = "package.rejected"

	// Conflict events
	EventTypeConflictDetected EventType = "conflict.detected"
	EventTypeConflictResolved EventType = "conflict.resolved"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	TenantID      string    `json:"tenant_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// PackageLifecycleEvent is emitted each time a package changes workflow status
type PackageLifecycleEvent struct {
	BaseEvent
	PackageID     string         `json:"package_id"`
	PackageNumber string         `json:"package_number,omitempty"`
	Status        string         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	ErrorCount    int            `json:"error_count,omitempty"`
	WarningCount  int            `json:"warning_count,omitempty"`
	Committed     map[string]int `json:"committed,omitempty"`
	Skipped       int            `json:"skipped,omitempty"`
}

// ConflictDetectedEvent is emitted when duplicate detection raises a conflict
type ConflictDetectedEvent struct {
	BaseEvent
	ConflictID string  `json:"conflict_id"`
	PackageID  string  `json:"package_id"`
	EntityType string  `json:"entity_type"`
	EntityAID  string  `json:"entity_a_id"`
	EntityBID  string  `json:"entity_b_id"`
	Score      float64 `json:"score"`
	Priority   string  `json:"priority"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		TenantID:      tenantID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
