package cloaca

import (
	"encoding/json"
	"testing"
)

func TestIDRoundTripJSON(t *testing.T) {
	id := NewID()

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out ID
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !id.Equal(out) {
		t.Fatalf("round trip mismatch: got %s, want %s", out, id)
	}
}

func TestIDNil(t *testing.T) {
	if !NilID.IsNil() {
		t.Fatal("NilID should report IsNil")
	}
	if NewID().IsNil() {
		t.Fatal("a fresh ID should not be nil")
	}
}

func TestParseIDInvalid(t *testing.T) {
	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Fatal("expected parse error for malformed uuid")
	}
}

func TestIDScanValue(t *testing.T) {
	id := NewID()

	val, err := id.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var scanned ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !id.Equal(scanned) {
		t.Fatalf("scan/value mismatch: got %s, want %s", scanned, id)
	}

	var nilScanned ID
	if err := nilScanned.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !nilScanned.IsNil() {
		t.Fatal("scanning nil should produce a nil ID")
	}
}
