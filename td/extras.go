package td

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// knownKeys caches the JSON object keys declared by a struct type.
var knownKeys sync.Map // reflect.Type -> map[string]struct{}

// jsonKeys returns the set of JSON keys a struct type decodes, following
// untagged embedded structs.
func jsonKeys(t reflect.Type) map[string]struct{} {
	if cached, ok := knownKeys.Load(t); ok {
		return cached.(map[string]struct{})
	}

	keys := make(map[string]struct{})
	collectKeys(t, keys)
	knownKeys.Store(t, keys)
	return keys
}

func collectKeys(t reflect.Type, keys map[string]struct{}) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			collectKeys(f.Type, keys)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		keys[name] = struct{}{}
	}
}

// extraFields decodes every key of the JSON object in data that none of the
// given struct types declares. It returns nil when there are none.
func extraFields(data []byte, types ...reflect.Type) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var extra map[string]any
	for key, value := range raw {
		if declared(key, types) {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[key] = v
	}
	return extra, nil
}

func declared(key string, types []reflect.Type) bool {
	for _, t := range types {
		if _, ok := jsonKeys(t)[key]; ok {
			return true
		}
	}
	return false
}

// mergeObjects marshals each part and merges the resulting JSON objects.
// Later parts override earlier ones. Extra keys are added only when no part
// already produced them.
func mergeObjects(extra map[string]any, parts ...any) ([]byte, error) {
	merged := make(map[string]json.RawMessage)
	for _, part := range parts {
		data, err := json.Marshal(part)
		if err != nil {
			return nil, err
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		for k, v := range obj {
			merged[k] = v
		}
	}

	for k, v := range extra {
		if _, exists := merged[k]; exists {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = data
	}
	return json.Marshal(merged)
}

// StringList is a list of strings that also accepts a single JSON string.
type StringList []string

// UnmarshalJSON accepts either "a" or ["a", "b"].
func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}
