package query

import (
	"fmt"
	"regexp"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidField reports whether name may be used as a filter or projection
// field. Backends interpolate field names into paths, so only plain
// identifiers are accepted.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name) && name != "_id"
}

// Validate checks every field referenced by p. A nil predicate is valid.
func Validate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		if pred.Value == nil {
			return fmt.Errorf("equals %q: nil value", pred.Field)
		}
		return validateField(pred.Field)
	case In:
		return validateField(pred.Field)
	case IDIn:
		for i, id := range pred.IDs {
			if id.IsZero() {
				return fmt.Errorf("id_in[%d]: empty identity", i)
			}
		}
		return nil
	case NameFold:
		return validateField(pred.Field)
	case Exists:
		return validateField(pred.Field)
	case And:
		for i, sub := range pred.Predicates {
			if err := Validate(sub); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// ValidateProjection checks projection field names.
func ValidateProjection(fields []string) error {
	for _, f := range fields {
		if err := validateField(f); err != nil {
			return fmt.Errorf("projection: %w", err)
		}
	}
	return nil
}

func validateField(name string) error {
	if !ValidField(name) {
		return fmt.Errorf("invalid field name %q", name)
	}
	return nil
}
