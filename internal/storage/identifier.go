package storage

import (
	"fmt"
	"regexp"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// MaxIdentifierLength bounds tenant, schema, and org identifiers used to
// namespace storage (spec §6 "Persisted state layout": "identifiers must
// pass a strict validator... to forbid injection").
const MaxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects any tenant/schema/org name that is not a
// bounded run of letters, digits, and underscores starting with a letter.
// Every backend calls this before interpolating a value into a schema
// name, table prefix, or namespace path — the one place in this module
// where a string is allowed anywhere near SQL text construction instead of
// going through a bound parameter.
func ValidateIdentifier(field, value string) error {
	if value == "" {
		return &cloaca.ValidationError{
			Field: field,
			Code:  cloaca.ValidationCodeInvalidIdentifier,
			Msg:   "identifier must not be empty",
		}
	}
	if len(value) > MaxIdentifierLength {
		return &cloaca.ValidationError{
			Field: field,
			Code:  cloaca.ValidationCodeInvalidIdentifier,
			Msg:   fmt.Sprintf("identifier exceeds %d characters", MaxIdentifierLength),
		}
	}
	if !identifierPattern.MatchString(value) {
		return &cloaca.ValidationError{
			Field: field,
			Code:  cloaca.ValidationCodeInvalidIdentifier,
			Msg:   "identifier must start with a letter and contain only letters, digits, and underscores",
		}
	}
	return nil
}
