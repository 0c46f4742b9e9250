package kafka

import (
	"encoding/json"
	"time"
)

// TypePackageReceived is the intake event type consumed by the pipeline
const TypePackageReceived = "package.received"

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	PackageReceived *PackageReceivedMessage
}

// PackageReceivedMessage announces that a field package landed in quarantine
// and is ready for pipeline processing
type PackageReceivedMessage struct {
	Type          string    `json:"type"` // "package.received"
	TenantID      string    `json:"tenant_id"`
	PackageID     string    `json:"package_id"`
	PackageNumber string    `json:"package_number"`
	DeviceID      string    `json:"device_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// ParsePackageReceived parses the message value as a package.received event
func (m *IncomingMessage) ParsePackageReceived() error {
	var msg PackageReceivedMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.PackageReceived = &msg
	return nil
}

// IsPackageReceived reports whether the message carries a package.received event
func (m *IncomingMessage) IsPackageReceived() bool {
	// Check header first
	if msgType := m.Headers["type"]; msgType == TypePackageReceived {
		return true
	}

	var msg PackageReceivedMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return false
	}
	return msg.Type == TypePackageReceived
}

// GetTenantID returns the tenant ID from the parsed body, falling back to the
// message header
func (m *IncomingMessage) GetTenantID() string {
	if m.PackageReceived != nil && m.PackageReceived.TenantID != "" {
		return m.PackageReceived.TenantID
	}
	return m.Headers["tenant_id"]
}

// GetPackageID returns the package ID from the parsed body, falling back to
// the message key
func (m *IncomingMessage) GetPackageID() string {
	if m.PackageReceived != nil && m.PackageReceived.PackageID != "" {
		return m.PackageReceived.PackageID
	}
	return m.Key
}
