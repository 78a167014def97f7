package schema

import (
	"fmt"
	"strings"
)

// ViolationKind classifies exactly how a value failed validation. Each kind
// maps to a distinct corrective instruction so the model is told precisely
// what to fix, never a generic "invalid schema".
type ViolationKind string

const (
	// ViolationMissing: a required field is absent from the payload.
	ViolationMissing ViolationKind = "missing"

	// ViolationNull: a required field is present but explicitly null.
	// Distinct from missing and from an empty string, which is a valid
	// string value.
	ViolationNull ViolationKind = "null"

	// ViolationWrongType: a field holds a scalar of the wrong type.
	ViolationWrongType ViolationKind = "wrong_type"

	// ViolationListForScalar: a field declared scalar received a list.
	ViolationListForScalar ViolationKind = "list_for_scalar"

	// ViolationObjectForScalar: a field declared scalar received an object.
	ViolationObjectForScalar ViolationKind = "object_for_scalar"

	// ViolationScalarForObject: a field declared object or array received
	// a scalar.
	ViolationScalarForObject ViolationKind = "scalar_for_compound"

	// ViolationUnknownField: the payload carries a field the schema does
	// not declare. Non-fatal: the field is dropped from the validated
	// result and the violation recorded for observability.
	ViolationUnknownField ViolationKind = "unknown_field"
)

// Violation describes a single validation failure.
type Violation struct {
	Field    string
	Kind     ViolationKind
	Expected Type
	Actual   string
}

// Fatal reports whether the violation requires a corrective round-trip.
// Unknown extra fields are dropped silently instead.
func (v Violation) Fatal() bool {
	return v.Kind != ViolationUnknownField
}

// Instruction renders the corrective instruction for this violation. The
// text is deterministic per kind so retries are reproducible.
func (v Violation) Instruction() string {
	switch v.Kind {
	case ViolationMissing:
		return fmt.Sprintf("required field %q of type %s is missing; add it to the payload", v.Field, v.Expected)
	case ViolationNull:
		return fmt.Sprintf("required field %q is null; provide a %s value", v.Field, v.Expected)
	case ViolationWrongType:
		return fmt.Sprintf("field %q expects type %s but received %s; convert the value, do not change its meaning", v.Field, v.Expected, v.Actual)
	case ViolationListForScalar:
		return fmt.Sprintf("field %q expects a single %s value but received a list; supply the value directly, not wrapped in a list", v.Field, v.Expected)
	case ViolationObjectForScalar:
		return fmt.Sprintf("field %q expects a single %s value but received an object; supply the value directly, not wrapped in an object", v.Field, v.Expected)
	case ViolationScalarForObject:
		return fmt.Sprintf("field %q expects %s but received the scalar %s", v.Field, v.Expected, v.Actual)
	case ViolationUnknownField:
		return fmt.Sprintf("field %q is not part of the schema and was ignored", v.Field)
	default:
		return fmt.Sprintf("field %q is invalid", v.Field)
	}
}

// ValidationError wraps the fatal violations of a failed validation.
type ValidationError struct {
	Schema     string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	instructions := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		instructions[i] = v.Instruction()
	}
	return fmt.Sprintf("schema %q: %s", e.Schema, strings.Join(instructions, "; "))
}

// Validate checks fields against the schema. It returns the validated
// result (declared fields only, ints normalized) and every violation found.
// The result is non-nil only when no fatal violation occurred.
func (s *Schema) Validate(fields map[string]any) (map[string]any, []Violation) {
	var violations []Violation
	result := make(map[string]any, len(s.Fields))

	for _, f := range s.Fields {
		value, present := fields[f.Name]
		if !present {
			if f.Required {
				violations = append(violations, Violation{Field: f.Name, Kind: ViolationMissing, Expected: f.Type})
			}
			continue
		}
		if value == nil {
			if f.Required {
				violations = append(violations, Violation{Field: f.Name, Kind: ViolationNull, Expected: f.Type})
			} else {
				result[f.Name] = nil
			}
			continue
		}
		normalized, violation := checkValue(f, value)
		if violation != nil {
			violations = append(violations, *violation)
			continue
		}
		result[f.Name] = normalized
	}

	for name := range fields {
		if _, declared := s.field(name); !declared {
			violations = append(violations, Violation{Field: name, Kind: ViolationUnknownField})
		}
	}

	for _, v := range violations {
		if v.Fatal() {
			return nil, violations
		}
	}
	return result, violations
}

// checkValue validates a single non-nil value against its field declaration.
// It returns the normalized value or a violation.
func checkValue(f Field, value any) (any, *Violation) {
	scalar := f.Type == TypeString || f.Type == TypeInt || f.Type == TypeFloat || f.Type == TypeBool

	switch v := value.(type) {
	case []any:
		if scalar {
			return nil, &Violation{Field: f.Name, Kind: ViolationListForScalar, Expected: f.Type}
		}
		if f.Type == TypeObject {
			return nil, &Violation{Field: f.Name, Kind: ViolationWrongType, Expected: f.Type, Actual: "array"}
		}
		if f.Items == nil {
			return v, nil
		}
		out := make([]any, len(v))
		for i, elem := range v {
			item := *f.Items
			item.Name = fmt.Sprintf("%s[%d]", f.Name, i)
			normalized, violation := checkValue(item, elem)
			if violation != nil {
				return nil, violation
			}
			out[i] = normalized
		}
		return out, nil

	case map[string]any:
		if scalar {
			return nil, &Violation{Field: f.Name, Kind: ViolationObjectForScalar, Expected: f.Type}
		}
		if f.Type == TypeArray {
			return nil, &Violation{Field: f.Name, Kind: ViolationWrongType, Expected: f.Type, Actual: "object"}
		}
		if len(f.Fields) == 0 {
			return v, nil
		}
		nested := Schema{Name: f.Name, Fields: f.Fields}
		result, nestedViolations := nested.Validate(v)
		for i := range nestedViolations {
			if nestedViolations[i].Fatal() {
				violation := nestedViolations[i]
				violation.Field = f.Name + "." + violation.Field
				return nil, &violation
			}
		}
		return result, nil

	default:
		return checkScalar(f, value, scalar)
	}
}

func checkScalar(f Field, value any, scalarField bool) (any, *Violation) {
	if !scalarField {
		return nil, &Violation{Field: f.Name, Kind: ViolationScalarForObject, Expected: f.Type, Actual: typeName(value)}
	}

	switch f.Type {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := value.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			// JSON decodes all numbers as float64; accept integral values.
			if n == float64(int64(n)) {
				return int(n), nil
			}
		}
	case TypeFloat:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	}
	return nil, &Violation{Field: f.Name, Kind: ViolationWrongType, Expected: f.Type, Actual: typeName(value)}
}

func typeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64:
		return "integer"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}
