package cloaca

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONBlob wraps a validated, well-formed JSON document. It is the vehicle
// for every "JSON value", "payload", "serialized task configuration" and
// "JSON metadata" attribute in the data model: round-tripping a JSONBlob
// through either storage backend's codec is guaranteed to preserve bytes
// up to whitespace, per the round-trip law in spec §8(a).
type JSONBlob struct {
	raw []byte
}

// NullJSONBlob is the empty/unset blob ("null" on the wire).
var NullJSONBlob = JSONBlob{}

// NewJSONBlob validates and wraps raw JSON bytes.
func NewJSONBlob(raw []byte) (JSONBlob, error) {
	if len(raw) == 0 {
		return JSONBlob{}, nil
	}
	if !json.Valid(raw) {
		return JSONBlob{}, fmt.Errorf("cloaca: invalid JSON blob")
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return JSONBlob{raw: cp}, nil
}

// MustJSONBlob marshals v into a JSONBlob, panicking on marshal failure.
// Intended for static/test construction, not request-path code.
func MustJSONBlob(v any) JSONBlob {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cloaca: MustJSONBlob: %v", err))
	}
	blob, err := NewJSONBlob(raw)
	if err != nil {
		panic(err)
	}
	return blob
}

// Bytes returns the underlying JSON bytes. Callers must not mutate the
// returned slice.
func (b JSONBlob) Bytes() []byte { return b.raw }

// IsNull reports whether the blob carries no value.
func (b JSONBlob) IsNull() bool { return len(b.raw) == 0 }

// Unmarshal decodes the blob into v.
func (b JSONBlob) Unmarshal(v any) error {
	if b.IsNull() {
		return fmt.Errorf("cloaca: cannot unmarshal a null JSONBlob")
	}
	return json.Unmarshal(b.raw, v)
}

// Equal compares two blobs by byte-for-byte content after trimming
// insignificant whitespace differences via re-compaction.
func (b JSONBlob) Equal(other JSONBlob) bool {
	if b.IsNull() || other.IsNull() {
		return b.IsNull() == other.IsNull()
	}
	var ba, bb bytes.Buffer
	if err := json.Compact(&ba, b.raw); err != nil {
		return false
	}
	if err := json.Compact(&bb, other.raw); err != nil {
		return false
	}
	return bytes.Equal(ba.Bytes(), bb.Bytes())
}

// MarshalJSON satisfies json.Marshaler by emitting the raw document as-is.
func (b JSONBlob) MarshalJSON() ([]byte, error) {
	if b.IsNull() {
		return []byte("null"), nil
	}
	return b.raw, nil
}

// UnmarshalJSON satisfies json.Unmarshaler, validating the incoming bytes.
func (b *JSONBlob) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = JSONBlob{}
		return nil
	}
	blob, err := NewJSONBlob(data)
	if err != nil {
		return err
	}
	*b = blob
	return nil
}

// Value implements driver.Valuer, storing the blob as a string column.
func (b JSONBlob) Value() (driver.Value, error) {
	if b.IsNull() {
		return nil, nil
	}
	return string(b.raw), nil
}

// Scan implements sql.Scanner.
func (b *JSONBlob) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = JSONBlob{}
		return nil
	case string:
		blob, err := NewJSONBlob([]byte(v))
		if err != nil {
			return err
		}
		*b = blob
		return nil
	case []byte:
		blob, err := NewJSONBlob(v)
		if err != nil {
			return err
		}
		*b = blob
		return nil
	default:
		return fmt.Errorf("cloaca: cannot scan %T into JSONBlob", src)
	}
}
