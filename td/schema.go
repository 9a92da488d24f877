package td

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"unicode/utf8"
)

// DataSchema describes the data of a property value, an action input or
// output, or an event payload.
type DataSchema struct {
	SemanticType     StringList            `json:"@type,omitempty"`
	Title            string                `json:"title,omitempty"`
	Titles           map[string]string     `json:"titles,omitempty"`
	Description      string                `json:"description,omitempty"`
	Descriptions     map[string]string     `json:"descriptions,omitempty"`
	Type             string                `json:"type,omitempty"`
	Const            any                   `json:"const,omitempty"`
	Default          any                   `json:"default,omitempty"`
	Enum             []any                 `json:"enum,omitempty"`
	Unit             string                `json:"unit,omitempty"`
	Format           string                `json:"format,omitempty"`
	ReadOnly         bool                  `json:"readOnly,omitempty"`
	WriteOnly        bool                  `json:"writeOnly,omitempty"`
	Minimum          *float64              `json:"minimum,omitempty"`
	Maximum          *float64              `json:"maximum,omitempty"`
	ExclusiveMinimum *float64              `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64              `json:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64              `json:"multipleOf,omitempty"`
	MinLength        *int                  `json:"minLength,omitempty"`
	MaxLength        *int                  `json:"maxLength,omitempty"`
	Pattern          string                `json:"pattern,omitempty"`
	Items            *SchemaItems          `json:"items,omitempty"`
	MinItems         *int                  `json:"minItems,omitempty"`
	MaxItems         *int                  `json:"maxItems,omitempty"`
	Properties       map[string]DataSchema `json:"properties,omitempty"`
	Required         []string              `json:"required,omitempty"`
	OneOf            []DataSchema          `json:"oneOf,omitempty"`
	ContentEncoding  string                `json:"contentEncoding,omitempty"`
	ContentMediaType string                `json:"contentMediaType,omitempty"`

	Extra map[string]any `json:"-"`
}

// SchemaItems is the items member of an array schema: either one schema for
// every element or a tuple with one schema per position.
type SchemaItems struct {
	Schema *DataSchema
	Tuple  []DataSchema
}

// At returns the schema for element i. Elements past the end of a tuple
// are unconstrained.
func (it *SchemaItems) At(i int) (*DataSchema, bool) {
	if it.Schema != nil {
		return it.Schema, true
	}
	if i < len(it.Tuple) {
		return &it.Tuple[i], true
	}
	return nil, false
}

// UnmarshalJSON accepts a schema object or an array of schemas.
func (it *SchemaItems) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tuple []DataSchema
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return err
		}
		*it = SchemaItems{Tuple: tuple}
		return nil
	}

	var schema DataSchema
	if err := json.Unmarshal(trimmed, &schema); err != nil {
		return err
	}
	*it = SchemaItems{Schema: &schema}
	return nil
}

// MarshalJSON writes the form the items were decoded from.
func (it SchemaItems) MarshalJSON() ([]byte, error) {
	if it.Schema != nil {
		return json.Marshal(it.Schema)
	}
	if it.Tuple == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(it.Tuple)
}

// Validate checks a decoded JSON value against the schema. Values are
// expected in the shape encoding/json produces (float64, string, bool, nil,
// []any, map[string]any); other Go values are accepted through reflection.
func (s DataSchema) Validate(value any) error {
	if value == nil {
		if s.Type != "" && s.Type != "null" {
			return fmt.Errorf("expected type %s, got null", s.Type)
		}
		return nil
	}

	if s.Const != nil && !sameValue(s.Const, value) {
		return fmt.Errorf("value %v does not equal const %v", value, s.Const)
	}

	if len(s.Enum) > 0 {
		if err := s.validateEnum(value); err != nil {
			return err
		}
	}

	if len(s.OneOf) > 0 {
		return s.validateOneOf(value)
	}

	switch s.Type {
	case "string":
		return s.validateString(value)
	case "integer":
		return s.validateInteger(value)
	case "number":
		return s.validateNumber(value)
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "null":
		return fmt.Errorf("expected null, got %T", value)
	case "array":
		return s.validateArray(value)
	case "object":
		return s.validateObject(value)
	}

	return nil
}

func (s DataSchema) validateString(value any) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}

	n := utf8.RuneCountInString(str)
	if s.MinLength != nil && n < *s.MinLength {
		return fmt.Errorf("string length %d is less than minimum %d", n, *s.MinLength)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return fmt.Errorf("string length %d is greater than maximum %d", n, *s.MaxLength)
	}

	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		if !re.MatchString(str) {
			return fmt.Errorf("string does not match pattern %s", s.Pattern)
		}
	}

	return nil
}

func (s DataSchema) validateInteger(value any) error {
	num, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("expected integer, got %T", value)
	}
	if num != float64(int64(num)) {
		return fmt.Errorf("expected integer, got float with decimal: %v", value)
	}
	return s.validateNumericConstraints(num)
}

func (s DataSchema) validateNumber(value any) error {
	num, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("expected number, got %T", value)
	}
	return s.validateNumericConstraints(num)
}

func (s DataSchema) validateNumericConstraints(num float64) error {
	if s.Minimum != nil && num < *s.Minimum {
		return fmt.Errorf("value %v is less than minimum %v", num, *s.Minimum)
	}
	if s.Maximum != nil && num > *s.Maximum {
		return fmt.Errorf("value %v is greater than maximum %v", num, *s.Maximum)
	}
	if s.ExclusiveMinimum != nil && num <= *s.ExclusiveMinimum {
		return fmt.Errorf("value %v must be greater than %v", num, *s.ExclusiveMinimum)
	}
	if s.ExclusiveMaximum != nil && num >= *s.ExclusiveMaximum {
		return fmt.Errorf("value %v must be less than %v", num, *s.ExclusiveMaximum)
	}
	if s.MultipleOf != nil && *s.MultipleOf > 0 {
		q := num / *s.MultipleOf
		if q != float64(int64(q)) {
			return fmt.Errorf("value %v is not a multiple of %v", num, *s.MultipleOf)
		}
	}
	return nil
}

func (s DataSchema) validateArray(value any) error {
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return fmt.Errorf("expected array, got %T", value)
	}

	if s.MinItems != nil && v.Len() < *s.MinItems {
		return fmt.Errorf("array length %d is less than minimum %d", v.Len(), *s.MinItems)
	}
	if s.MaxItems != nil && v.Len() > *s.MaxItems {
		return fmt.Errorf("array length %d is greater than maximum %d", v.Len(), *s.MaxItems)
	}

	if s.Items != nil {
		for i := 0; i < v.Len(); i++ {
			item, ok := s.Items.At(i)
			if !ok {
				break
			}
			if err := item.Validate(v.Index(i).Interface()); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	}

	return nil
}

func (s DataSchema) validateObject(value any) error {
	var obj map[string]any

	switch v := value.(type) {
	case map[string]any:
		obj = v
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Map && rv.Kind() != reflect.Struct {
			return fmt.Errorf("expected object, got %T", value)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal object: %w", err)
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("failed to unmarshal object: %w", err)
		}
	}

	for _, req := range s.Required {
		if _, exists := obj[req]; !exists {
			return fmt.Errorf("required field %s is missing", req)
		}
	}

	for _, key := range sortedKeys(obj) {
		propSchema, exists := s.Properties[key]
		if !exists {
			continue
		}
		if err := propSchema.Validate(obj[key]); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}

	return nil
}

func (s DataSchema) validateEnum(value any) error {
	for _, allowed := range s.Enum {
		if sameValue(value, allowed) {
			return nil
		}
	}
	return fmt.Errorf("value %v is not one of the allowed values: %v", value, s.Enum)
}

func (s DataSchema) validateOneOf(value any) error {
	matches := 0
	for _, alt := range s.OneOf {
		if alt.Validate(value) == nil {
			matches++
		}
	}
	if matches != 1 {
		return fmt.Errorf("value %v matches %d of %d oneOf schemas, want exactly 1", value, matches, len(s.OneOf))
	}
	return nil
}

// sameValue compares JSON values, treating all numeric kinds alike.
func sameValue(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}

// ValidatePropertyValue checks value against the named property's schema.
func (t *Thing) ValidatePropertyValue(name string, value any) error {
	prop, ok := t.Properties[name]
	if !ok || prop == nil {
		return fmt.Errorf("property %q not found", name)
	}
	if err := prop.Schema.Validate(value); err != nil {
		return fmt.Errorf("property %q: %w", name, err)
	}
	return nil
}

// ValidateActionInput checks value against the named action's input schema.
// Actions without input accept only nil.
func (t *Thing) ValidateActionInput(name string, value any) error {
	action, ok := t.Actions[name]
	if !ok || action == nil {
		return fmt.Errorf("action %q not found", name)
	}
	if action.Input == nil {
		if value != nil {
			return fmt.Errorf("action %q takes no input", name)
		}
		return nil
	}
	if err := action.Input.Validate(value); err != nil {
		return fmt.Errorf("action %q input: %w", name, err)
	}
	return nil
}
