// Package validation implements the validation Schema plug-in contract: a
// safeParse(value) -> {success, data|error} operation plus a JSON-Schema
// exporter, realized here with mapstructure decoding and
// go-playground/validator struct tags.
package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Schema is the validation plug-in interface an Action.Validation field
// implements. SafeParse mirrors the source contract's
// safeParse(value) -> {success, data|error}; ToJSONSchema feeds the schema
// exporter (intent "schema") and is allowed to fail, since schemas are
// advisory.
type Schema interface {
	SafeParse(value any) (data any, prettyErr string, ok bool)
	ToJSONSchema() (map[string]any, bool)
}

// StructSchema validates an opaque payload against a Go struct T, decoding
// with mapstructure and validating with go-playground/validator.
type StructSchema[T any] struct {
	validate *validator.Validate
}

// NewStructSchema builds a StructSchema for T using a dedicated validator
// instance so struct-tag based validation never leaks global state between
// schemas registered by different actions.
func NewStructSchema[T any]() *StructSchema[T] {
	return &StructSchema[T]{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// SafeParse decodes value into a T and runs struct validation over it. A
// decode failure and a validation failure both report ok=false with a
// human-readable prettyErr; success returns the decoded (possibly coerced)
// T as data.
func (s *StructSchema[T]) SafeParse(value any) (any, string, bool) {
	var target T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &target,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return nil, fmt.Sprintf("schema: %v", err), false
	}
	if err := decoder.Decode(value); err != nil {
		return nil, prettyDecodeError(err), false
	}
	if err := s.validate.Struct(target); err != nil {
		return nil, prettyValidationError(err), false
	}
	return target, "", true
}

// ToJSONSchema reflects over T's fields and their validate/json tags to
// build a JSON-Schema-equivalent map. There is no ecosystem generator for
// this direction (struct tags -> schema) in the reference stack, so it is
// hand-written; see DESIGN.md.
func (s *StructSchema[T]) ToJSONSchema() (map[string]any, bool) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, false
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, false
	}

	properties := map[string]any{}
	required := []string{}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := jsonFieldName(field)
		if name == "-" {
			continue
		}
		prop, isRequired := fieldToJSONSchema(field)
		properties[name] = prop
		if isRequired {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, true
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return field.Name
	}
	return name
}

func fieldToJSONSchema(field reflect.StructField) (map[string]any, bool) {
	prop := map[string]any{"type": jsonType(field.Type)}
	required := false

	tag := field.Tag.Get("validate")
	if tag == "" {
		return prop, required
	}

	for _, rule := range strings.Split(tag, ",") {
		rule = strings.TrimSpace(rule)
		name, arg, hasArg := strings.Cut(rule, "=")
		switch name {
		case "required":
			required = true
		case "email":
			prop["format"] = "email"
		case "uuid", "uuid4":
			prop["format"] = "uuid"
		case "gte":
			if hasArg {
				if n, err := strconv.ParseFloat(arg, 64); err == nil {
					prop["minimum"] = n
				}
			}
		case "lte":
			if hasArg {
				if n, err := strconv.ParseFloat(arg, 64); err == nil {
					prop["maximum"] = n
				}
			}
		case "min":
			if hasArg {
				if n, err := strconv.Atoi(arg); err == nil && jsonType(field.Type) == "string" {
					prop["minLength"] = n
				}
			}
		case "max":
			if hasArg {
				if n, err := strconv.Atoi(arg); err == nil && jsonType(field.Type) == "string" {
					prop["maxLength"] = n
				}
			}
		}
	}

	return prop, required
}

func jsonType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

func prettyDecodeError(err error) string {
	return fmt.Sprintf("invalid payload: %v", err)
}

func prettyValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
