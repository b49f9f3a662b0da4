package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldsync/opqueue/pkg/types"
)

// ValidatePayload validates payload against schema: it collects every
// missing-required-field error first, then every per-field error, and
// never short-circuits — callers see the full list of problems at once.
func ValidatePayload(s *types.EntitySchema, payload map[string]any) []string {
	var errs []string

	for field := range s.RequiredFields {
		if _, present := payload[field]; !present {
			errs = append(errs, fmt.Sprintf("%s is required", field))
		}
	}

	for field, def := range s.Fields {
		value, present := payload[field]
		if !present {
			continue
		}
		for _, msg := range ValidateField(field, def, value) {
			errs = append(errs, msg)
		}
	}

	return errs
}

// ValidateField is a pure function: given a field's declared type and
// constraints and a candidate value, it returns the (possibly empty) list
// of error messages for that value. It has no side effects.
func ValidateField(field string, def types.FieldDef, value any) []string {
	switch def.Type {
	case types.FieldString:
		return validateString(field, def, value)
	case types.FieldDecimal:
		return validateDecimal(field, def, value)
	case types.FieldEmail:
		return validateEmail(field, value)
	case types.FieldDate:
		return validateDate(field, value)
	case types.FieldBoolean:
		return validateBoolean(field, value)
	case types.FieldEnum:
		return validateEnum(field, def, value)
	case types.FieldArray:
		return validateArray(field, value)
	case types.FieldObject:
		return validateObject(field, value)
	default:
		return []string{fmt.Sprintf("%s has unrecognized field type %q", field, def.Type)}
	}
}

func validateString(field string, def types.FieldDef, value any) []string {
	s, ok := value.(string)
	if !ok {
		return []string{fmt.Sprintf("%s must be a string", field)}
	}
	var errs []string
	if def.MinLength != nil && len(s) < *def.MinLength {
		errs = append(errs, fmt.Sprintf("%s must be at least %d characters", field, *def.MinLength))
	}
	if def.MaxLength != nil && len(s) > *def.MaxLength {
		errs = append(errs, fmt.Sprintf("%s must be at most %d characters", field, *def.MaxLength))
	}
	return errs
}

func validateDecimal(field string, def types.FieldDef, value any) []string {
	n, ok := toFloat64(value)
	if !ok {
		return []string{fmt.Sprintf("%s must be numeric", field)}
	}
	var errs []string
	if def.Min != nil && n < *def.Min {
		errs = append(errs, fmt.Sprintf("%s must be >= %v", field, *def.Min))
	}
	if def.Max != nil && n > *def.Max {
		errs = append(errs, fmt.Sprintf("%s must be <= %v", field, *def.Max))
	}
	return errs
}

func validateEmail(field string, value any) []string {
	s, ok := value.(string)
	if !ok || !strings.Contains(s, "@") {
		return []string{fmt.Sprintf("%s must be a valid email address", field)}
	}
	return nil
}

func validateDate(field string, value any) []string {
	if _, ok := value.(time.Time); ok {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return []string{fmt.Sprintf("%s must be an ISO-8601 date", field)}
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return nil
	}
	if _, err := time.Parse("2006-01-02T15:04:05", strings.TrimSuffix(s, "Z")); err == nil {
		return nil
	}
	return []string{fmt.Sprintf("%s must be an ISO-8601 date", field)}
}

func validateBoolean(field string, value any) []string {
	if _, ok := value.(bool); !ok {
		return []string{fmt.Sprintf("%s must be a boolean", field)}
	}
	return nil
}

func validateEnum(field string, def types.FieldDef, value any) []string {
	s, ok := value.(string)
	if !ok {
		return []string{fmt.Sprintf("%s must be one of %v", field, def.EnumValues)}
	}
	for _, allowed := range def.EnumValues {
		if s == allowed {
			return nil
		}
	}
	return []string{fmt.Sprintf("%s must be one of %v", field, def.EnumValues)}
}

func validateArray(field string, value any) []string {
	if _, ok := value.([]any); !ok {
		return []string{fmt.Sprintf("%s must be an array", field)}
	}
	return nil
}

func validateObject(field string, value any) []string {
	if _, ok := value.(map[string]any); !ok {
		return []string{fmt.Sprintf("%s must be an object", field)}
	}
	return nil
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
