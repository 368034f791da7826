// Package cloaca provides the backend-agnostic universal types shared by
// every layer of the task-orchestration engine: identifiers, timestamps,
// and JSON blob values that must round-trip through either storage backend.
package cloaca

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ID is a UUID-backed identifier used for pipeline executions, task
// executions, signing keys, and registry entries. It wraps uuid.UUID so
// every storage backend (embedded or client-server) stores and compares
// identifiers the same way, regardless of the driver's native UUID support.
type ID struct {
	v uuid.UUID
}

// NilID is the zero-value ID, used to mean "no owner" / "not set".
var NilID = ID{}

// NewID generates a fresh random (v4) identifier.
func NewID() ID {
	return ID{v: uuid.New()}
}

// ParseID parses a canonical UUID string into an ID.
func ParseID(s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("cloaca: parse id %q: %w", s, err)
	}
	return ID{v: v}, nil
}

// IsNil reports whether the ID is the zero value.
func (id ID) IsNil() bool { return id.v == uuid.Nil }

// String renders the canonical hyphenated UUID form.
func (id ID) String() string { return id.v.String() }

// Equal reports whether two IDs refer to the same identifier.
func (id ID) Equal(other ID) bool { return id.v == other.v }

// MarshalJSON renders the ID as a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.v.String())
}

// UnmarshalJSON parses an ID from a JSON string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value implements driver.Valuer so an ID can be bound directly into a
// database/sql query regardless of backend.
func (id ID) Value() (driver.Value, error) {
	if id.IsNil() {
		return nil, nil
	}
	return id.v.String(), nil
}

// Scan implements sql.Scanner, accepting the string or []byte forms a
// driver may return for a UUID/CHAR(36) column.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ID{}
		return nil
	case string:
		parsed, err := ParseID(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		parsed, err := ParseID(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	default:
		return fmt.Errorf("cloaca: cannot scan %T into ID", src)
	}
}
