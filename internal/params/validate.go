package params

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks overrides against the schema. Keys the schema does not
// know are ignored, matching Merge. The engine does not call this unless
// strict parameter checking is switched on.
func Validate(schema Schema, overrides Values) error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		field, ok := schema.Field(name)
		if !ok {
			continue
		}
		if err := validateField(field, overrides[name]); err != nil {
			errs = append(errs, fmt.Errorf("parameter %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func validateField(field Field, value any) error {
	switch field.Type {
	case TypeRange:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected a number, got %T", value)
		}
		var rules []string
		if field.Min != nil {
			rules = append(rules, fmt.Sprintf("gte=%g", *field.Min))
		}
		if field.Max != nil {
			rules = append(rules, fmt.Sprintf("lte=%g", *field.Max))
		}
		if len(rules) == 0 {
			return nil
		}
		if err := validate.Var(f, strings.Join(rules, ",")); err != nil {
			return fmt.Errorf("%g is outside [%s]", f, boundsString(field))
		}
	case TypeSelect:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected a string, got %T", value)
		}
		if len(field.Options) == 0 {
			return nil
		}
		if err := validate.Var(s, "oneof="+strings.Join(field.Options, " ")); err != nil {
			return fmt.Errorf("%q is not one of %v", s, field.Options)
		}
	case TypeFile, TypeText:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected a string, got %T", value)
		}
	}
	return nil
}

func boundsString(field Field) string {
	lo, hi := "-inf", "+inf"
	if field.Min != nil {
		lo = fmt.Sprintf("%g", *field.Min)
	}
	if field.Max != nil {
		hi = fmt.Sprintf("%g", *field.Max)
	}
	return lo + ", " + hi
}
