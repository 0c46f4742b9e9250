package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB maps a jsonb column onto a typed value. Staged rows keep their
// validation error and warning buffers in jsonb, and audit entries carry
// their detail payload the same way.
type JSONB[T any] struct {
	Data T
}

// Scan implements sql.Scanner. pq hands jsonb columns over as []byte.
func (p *JSONB[T]) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("JSONB.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, &p.Data)
}

// Value implements driver.Valuer so jsonb fields round-trip on writes
func (p JSONB[T]) Value() (driver.Value, error) {
	return json.Marshal(p.Data)
}

func (p *JSONB[T]) GetValue() T {
	return p.Data
}
