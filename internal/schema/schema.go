// Package schema provides declarative structural validation of JSON
// documents. It is the first, cheapest rejection layer: a document that
// fails here never reaches the integrity or policy validators.
//
// Validation never panics or returns a Go error for malformed input - every
// problem becomes a structured entry in the result naming the offending
// field path and a stable machine-readable code.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/planforge/planforge/internal/errors"
)

// Type is the JSON type a schema node expects.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema describes the expected shape of a document node. Schemas nest:
// object properties and array items are themselves schemas.
type Schema struct {
	// Type is the expected JSON type. Empty means any type is accepted.
	Type Type

	// Required lists property names that must be present (objects only).
	Required []string

	// Properties maps property names to their schemas (objects only).
	Properties map[string]*Schema

	// Items is the schema every array element must satisfy (arrays only).
	Items *Schema

	// Enum restricts a string to a fixed set of values.
	Enum []string

	// MinLength / MaxLength bound string length; nil means unbounded.
	MinLength *int
	MaxLength *int

	// Pattern is an anchored regular expression the string must match.
	Pattern string

	// Minimum / Maximum bound numeric values; nil means unbounded.
	Minimum *float64
	Maximum *float64

	// MinItems / MaxItems bound array length; nil means unbounded.
	MinItems *int
	MaxItems *int
}

// Result is the outcome of a validation pass. Errors carry field paths like
// "phases[2].dependencies" and codes tooling can branch on.
type Result struct {
	Valid  bool                      `json:"valid"`
	Errors []*errors.ValidationError `json:"errors,omitempty"`
}

// Validate checks value against s and returns every violation found.
// It never stops at the first problem.
func Validate(value any, s *Schema) *Result {
	res := &Result{Valid: true}
	if s == nil {
		return res
	}
	validateNode(value, s, "", res)
	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateDocument validates a Go struct by round-tripping it through JSON
// first, so the schema sees exactly the field names and types that would be
// persisted to disk.
func ValidateDocument(doc any, s *Schema) *Result {
	data, err := json.Marshal(doc)
	if err != nil {
		return &Result{
			Valid: false,
			Errors: []*errors.ValidationError{
				errors.NewValidationError(errors.CodeTypeMismatch, "", fmt.Sprintf("document is not serializable: %v", err)),
			},
		}
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &Result{
			Valid: false,
			Errors: []*errors.ValidationError{
				errors.NewValidationError(errors.CodeTypeMismatch, "", fmt.Sprintf("document is not valid JSON: %v", err)),
			},
		}
	}
	return Validate(value, s)
}

func validateNode(value any, s *Schema, path string, res *Result) {
	if s.Type != "" && !typeMatches(value, s.Type) {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeTypeMismatch, path,
			fmt.Sprintf("expected %s, got %s", s.Type, jsonTypeName(value)),
		))
		return
	}

	switch s.Type {
	case TypeObject:
		validateObject(value.(map[string]any), s, path, res)
	case TypeArray:
		validateArray(value.([]any), s, path, res)
	case TypeString:
		validateString(value.(string), s, path, res)
	case TypeNumber, TypeInteger:
		validateNumber(value.(float64), s, path, res)
	}
}

func validateObject(obj map[string]any, s *Schema, path string, res *Result) {
	for _, name := range s.Required {
		if _, ok := obj[name]; !ok {
			res.Errors = append(res.Errors, errors.NewValidationError(
				errors.CodeRequiredFieldMissing, joinPath(path, name),
				"required field is missing",
			))
		}
	}

	for name, propSchema := range s.Properties {
		val, ok := obj[name]
		if !ok || val == nil {
			continue
		}
		validateNode(val, propSchema, joinPath(path, name), res)
	}
}

func validateArray(arr []any, s *Schema, path string, res *Result) {
	if s.MinItems != nil && len(arr) < *s.MinItems {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeArrayTooShort, path,
			fmt.Sprintf("must have at least %d items, has %d", *s.MinItems, len(arr)),
		))
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeArrayTooLong, path,
			fmt.Sprintf("must have at most %d items, has %d", *s.MaxItems, len(arr)),
		))
	}
	if s.Items != nil {
		for i, item := range arr {
			validateNode(item, s.Items, fmt.Sprintf("%s[%d]", path, i), res)
		}
	}
}

func validateString(str string, s *Schema, path string, res *Result) {
	if s.MinLength != nil && len(str) < *s.MinLength {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeStringTooShort, path,
			fmt.Sprintf("must be at least %d characters", *s.MinLength),
		))
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeStringTooLong, path,
			fmt.Sprintf("must be at most %d characters", *s.MaxLength),
		))
	}

	if len(s.Enum) > 0 {
		found := false
		for _, allowed := range s.Enum {
			if str == allowed {
				found = true
				break
			}
		}
		if !found {
			res.Errors = append(res.Errors, errors.NewValidationError(
				errors.CodeInvalidEnumValue, path,
				fmt.Sprintf("%q is not one of: %s", str, strings.Join(s.Enum, ", ")),
			))
		}
	}

	if s.Pattern != "" {
		re, err := regexp.Compile("^(?:" + s.Pattern + ")$")
		if err != nil {
			// A broken pattern is a schema authoring bug; report it against
			// the field rather than panicking on caller input.
			res.Errors = append(res.Errors, errors.NewValidationError(
				errors.CodePatternMismatch, path,
				fmt.Sprintf("schema pattern %q is invalid: %v", s.Pattern, err),
			))
			return
		}
		if !re.MatchString(str) {
			res.Errors = append(res.Errors, errors.NewValidationError(
				errors.CodePatternMismatch, path,
				fmt.Sprintf("%q does not match pattern %q", str, s.Pattern),
			))
		}
	}
}

func validateNumber(num float64, s *Schema, path string, res *Result) {
	if s.Type == TypeInteger && num != math.Trunc(num) {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeTypeMismatch, path,
			fmt.Sprintf("expected integer, got %v", num),
		))
		return
	}
	if s.Minimum != nil && num < *s.Minimum {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeValueOutOfRange, path,
			fmt.Sprintf("must be >= %v", *s.Minimum),
		))
	}
	if s.Maximum != nil && num > *s.Maximum {
		res.Errors = append(res.Errors, errors.NewValidationError(
			errors.CodeValueOutOfRange, path,
			fmt.Sprintf("must be <= %v", *s.Maximum),
		))
	}
}

func typeMatches(value any, t Type) bool {
	switch t {
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := value.(float64)
		return ok
	case TypeInteger:
		_, ok := value.(float64)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// intPtr and floatPtr make inline schema literals readable.
func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
