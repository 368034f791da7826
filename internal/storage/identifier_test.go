package storage

import "testing"

func TestValidateIdentifierAccepts(t *testing.T) {
	valid := []string{"tenant_a", "Org1", "a", "schema_with_many_underscores_1234"}
	for _, v := range valid {
		if err := ValidateIdentifier("tenant", v); err != nil {
			t.Errorf("ValidateIdentifier(%q) returned error: %v", v, err)
		}
	}
}

func TestValidateIdentifierRejects(t *testing.T) {
	invalid := []string{"", "1starts_with_digit", "has-dash", "has space", "has.dot", "drop table;--"}
	for _, v := range invalid {
		if err := ValidateIdentifier("tenant", v); err == nil {
			t.Errorf("ValidateIdentifier(%q) = nil, want error", v)
		}
	}
}

func TestValidateIdentifierRejectsOverlong(t *testing.T) {
	long := make([]byte, MaxIdentifierLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateIdentifier("tenant", string(long)); err == nil {
		t.Error("expected error for overlong identifier")
	}
}
