package cloaca

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp normalizes every "creation/completion timestamp" attribute in
// the data model to UTC and a single RFC3339Nano JSON encoding, so the two
// storage backends (which otherwise round time.Time through different
// drivers) never disagree on precision or timezone.
type Timestamp struct {
	t time.Time
}

// Now returns the current instant as a Timestamp, normalized to UTC.
func Now() Timestamp {
	return Timestamp{t: time.Now().UTC()}
}

// NewTimestamp wraps an existing time.Time, normalizing it to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// ParseTimestamp parses an RFC3339 or RFC3339Nano string, as accepted by
// the detached signature envelope's "signed_at" field (spec §4.5).
func ParseTimestamp(s string) (Timestamp, error) {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return Timestamp{}, fmt.Errorf("cloaca: parse timestamp %q: %w", s, err)
		}
	}
	return Timestamp{t: parsed.UTC()}, nil
}

// Time returns the underlying time.Time value.
func (ts Timestamp) Time() time.Time { return ts.t }

// IsZero reports whether the timestamp was never set.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Before reports whether ts is strictly before other.
func (ts Timestamp) Before(other Timestamp) bool { return ts.t.Before(other.t) }

// After reports whether ts is strictly after other.
func (ts Timestamp) After(other Timestamp) bool { return ts.t.After(other.t) }

// Add returns a new Timestamp offset by d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{t: ts.t.Add(d)}
}

// String renders RFC3339Nano.
func (ts Timestamp) String() string {
	return ts.t.Format(time.RFC3339Nano)
}

// MarshalJSON renders RFC3339Nano, matching the detached-signature
// "signed_at" format and every other timestamp attribute in the data model.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts any RFC3339-compatible string.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*ts = Timestamp{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("cloaca: parse timestamp %q: %w", s, err)
		}
	}
	*ts = Timestamp{t: parsed.UTC()}
	return nil
}

// Value implements driver.Valuer.
func (ts Timestamp) Value() (driver.Value, error) {
	if ts.IsZero() {
		return nil, nil
	}
	return ts.t, nil
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts = Timestamp{}
		return nil
	case time.Time:
		*ts = Timestamp{t: v.UTC()}
		return nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return err
		}
		*ts = Timestamp{t: parsed.UTC()}
		return nil
	default:
		return fmt.Errorf("cloaca: cannot scan %T into Timestamp", src)
	}
}
