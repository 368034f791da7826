package cloaca

import (
	"encoding/json"
	"testing"
)

type contextPayload struct {
	N int            `json:"n"`
	M map[string]int `json:"m"`
}

func TestJSONBlobRoundTrip(t *testing.T) {
	want := contextPayload{N: 1, M: map[string]int{"step_1": 2}}

	blob := MustJSONBlob(want)

	data, err := json.Marshal(blob)
	if err != nil {
		t.Fatalf("marshal blob: %v", err)
	}

	var roundTripped JSONBlob
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal blob: %v", err)
	}

	var got contextPayload
	if err := roundTripped.Unmarshal(&got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if got.N != want.N || got.M["step_1"] != want.M["step_1"] {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestJSONBlobRejectsInvalid(t *testing.T) {
	if _, err := NewJSONBlob([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestJSONBlobEqualIgnoresWhitespace(t *testing.T) {
	a, _ := NewJSONBlob([]byte(`{"a":1,"b":2}`))
	b, _ := NewJSONBlob([]byte("{\n  \"a\": 1,\n  \"b\": 2\n}"))
	if !a.Equal(b) {
		t.Fatal("expected blobs differing only in whitespace to compare equal")
	}
}

func TestJSONBlobScanValue(t *testing.T) {
	blob := MustJSONBlob(map[string]string{"k": "v"})

	val, err := blob.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var scanned JSONBlob
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !blob.Equal(scanned) {
		t.Fatal("scan/value round trip mismatch")
	}
}
