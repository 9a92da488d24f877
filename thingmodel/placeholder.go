package thingmodel

import (
	"bytes"
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/wotkit/tdkit/tderr"
)

var placeholderPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Placeholders returns the distinct placeholder keys used anywhere in the
// model, keys included, in order of first appearance.
func Placeholders(m Model) []string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(m)); err != nil {
		return nil
	}

	var keys []string
	for _, match := range placeholderPattern.FindAllSubmatch(buf.Bytes(), -1) {
		key := string(match[1])
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// CheckPlaceholders verifies that values contains every placeholder of the
// model. A model without placeholders needs no map.
func CheckPlaceholders(m Model, values map[string]any) error {
	const op = "thingmodel.CheckPlaceholders"

	keys := Placeholders(m)
	if len(keys) == 0 {
		return nil
	}
	if values == nil {
		return tderr.Newf(op, tderr.CodeMissingPlaceholder, "No map provided for model %s; placeholders: %s", m.Title(), strings.Join(keys, ", ")).
			WithDetails(map[string]any{"missing": keys})
	}

	var missing []string
	for _, key := range keys {
		if _, ok := values[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return tderr.Newf(op, tderr.CodeMissingPlaceholder, "Missing required fields in map for model %s: %s", m.Title(), strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// FillPlaceholders replaces placeholders throughout the model in place and
// returns it. A string that is exactly one placeholder takes the mapped value
// with its JSON type. Embedded placeholders are replaced by string values
// verbatim and by the JSON encoding of anything else. Placeholders without a
// mapped value are left untouched.
func FillPlaceholders(m Model, values map[string]any) Model {
	if len(values) == 0 {
		return m
	}
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	for _, key := range keys {
		filled := fillValue(m[key], values)
		newKey := fillString(key, values)
		if newKey != key {
			delete(m, key)
		}
		m[newKey] = filled
	}
	return m
}

func fillValue(v any, values map[string]any) any {
	switch x := v.(type) {
	case string:
		if match := placeholderPattern.FindStringSubmatch(x); match != nil && match[0] == x {
			if value, ok := values[match[1]]; ok {
				return cloneValue(value)
			}
			return x
		}
		return fillString(x, values)
	case map[string]any:
		return map[string]any(FillPlaceholders(x, values))
	case []any:
		for i, e := range x {
			x[i] = fillValue(e, values)
		}
		return x
	default:
		return v
	}
}

func fillString(s string, values map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		value, ok := values[placeholderPattern.FindStringSubmatch(token)[1]]
		if !ok {
			return token
		}
		if str, isString := value.(string); isString {
			return str
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(value); err != nil {
			return token
		}
		return strings.TrimSuffix(buf.String(), "\n")
	})
}
