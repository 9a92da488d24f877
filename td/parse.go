package td

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/wotkit/tdkit/tderr"
)

const opParse = "td.Parse"

// utf8BOM is stripped from the start of a document before decoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var affordanceLabels = map[string]string{
	KindProperties: "Property",
	KindActions:    "Action",
	KindEvents:     "Event",
}

// ParseOption configures Parse.
type ParseOption func(*parseConfig)

type parseConfig struct {
	normalize bool
	logger    *slog.Logger
}

// WithoutNormalization keeps relative form hrefs as they are instead of
// resolving them against base.
func WithoutNormalization() ParseOption {
	return func(c *parseConfig) {
		c.normalize = false
	}
}

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(logger *slog.Logger) ParseOption {
	return func(c *parseConfig) {
		c.logger = logger
	}
}

// Parse decodes a Thing Description and applies the TD defaults:
//
//   - @context gets both TD context URIs in front and an @language entry
//   - @type always contains "Thing"
//   - readOnly, writeOnly and observable of properties and safe and
//     idempotent of actions become false unless they are booleans
//   - affordance maps are always present
//   - a bare security string becomes a one-element array
//   - every affordance needs forms and every form an href; relative hrefs
//     require base and are resolved against it
//
// Violations are reported as *tderr.Error with code PARSE_ERROR.
func Parse(data []byte, opts ...ParseOption) (*Thing, error) {
	cfg := &parseConfig{normalize: true}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	var raw any
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &raw); err != nil {
		return nil, tderr.New(opParse, tderr.CodeParse, "invalid JSON").WithCause(err)
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, tderr.New(opParse, tderr.CodeParse, "Thing Description must be a JSON object")
	}

	if err := Normalize(doc, cfg.normalize, cfg.logger); err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, tderr.New(opParse, tderr.CodeParse, "failed to encode normalized document").WithCause(err)
	}

	var thing Thing
	if err := json.Unmarshal(normalized, &thing); err != nil {
		return nil, tderr.New(opParse, tderr.CodeParse, "failed to decode Thing Description").WithCause(err)
	}
	return &thing, nil
}

// Normalize applies the Parse defaults to a decoded TD in place. When
// resolve is true, relative form hrefs are resolved against base.
func Normalize(doc map[string]any, resolve bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	doc["@context"] = normalizeContext(doc["@context"])
	doc["@type"] = normalizeType(doc["@type"])

	for _, kind := range AffordanceKinds {
		if _, ok := doc[kind].(map[string]any); !ok {
			doc[kind] = map[string]any{}
		}
	}

	if err := applyAffordanceDefaults(doc); err != nil {
		return err
	}

	switch sec := doc["security"].(type) {
	case nil:
		logger.Warn("thing description has no security metadata", "title", doc["title"])
	case string:
		doc["security"] = []any{sec}
	}

	forms, err := collectForms(doc)
	if err != nil {
		return err
	}

	base, hasBase := doc["base"].(string)
	if hasBase && resolve {
		for _, form := range forms {
			href := form["href"].(string)
			if IsAbsoluteURI(href) {
				continue
			}
			resolved := ResolveReference(base, href)
			logger.Debug("applying base to form href", "base", base, "href", href, "resolved", resolved)
			form["href"] = resolved
		}
	}

	return nil
}

// normalizeContext puts the TD context URIs in front and appends the
// default @language unless an object entry already declares one.
func normalizeContext(ctx any) any {
	var entries []any

	switch c := ctx.(type) {
	case nil:
		entries = []any{ContextV1, ContextV11}
	case []any:
		entries = frontContexts(c)
	case string:
		if c == ContextV1 || c == ContextV11 {
			return c
		}
		entries = []any{ContextV1, ContextV11, c}
	default:
		entries = []any{ContextV1, ContextV11, c}
	}

	for _, entry := range entries {
		if obj, ok := entry.(map[string]any); ok {
			if _, set := obj["@language"]; set {
				return entries
			}
		}
	}
	return append(entries, map[string]any{"@language": DefaultLanguage})
}

func frontContexts(entries []any) []any {
	var front, rest []any
	hasV1, hasV11 := false, false
	for _, e := range entries {
		switch e {
		case ContextV1:
			hasV1 = true
		case ContextV11:
			hasV11 = true
		default:
			rest = append(rest, e)
		}
	}

	switch {
	case hasV1 && hasV11:
		front = []any{ContextV1, ContextV11}
	case hasV1:
		front = []any{ContextV1}
	case hasV11:
		front = []any{ContextV11}
	default:
		front = []any{ContextV1, ContextV11}
	}
	return append(front, rest...)
}

func normalizeType(t any) any {
	switch v := t.(type) {
	case nil:
		return DefaultThingType
	case []any:
		for _, e := range v {
			if e == DefaultThingType {
				return v
			}
		}
		return append([]any{DefaultThingType}, v...)
	case string:
		if v == DefaultThingType {
			return v
		}
		return []any{DefaultThingType, v}
	default:
		return []any{DefaultThingType, v}
	}
}

func applyAffordanceDefaults(doc map[string]any) error {
	for _, kind := range AffordanceKinds {
		affordances := doc[kind].(map[string]any)
		for _, name := range sortedKeys(affordances) {
			aff, ok := affordances[name].(map[string]any)
			if !ok {
				return tderr.Newf(opParse, tderr.CodeParse, "%s '%s' is not an object", affordanceLabels[kind], name).
					WithDetails(map[string]any{"affordance": name})
			}
			switch kind {
			case KindProperties:
				defaultFalse(aff, "readOnly", "writeOnly", "observable")
			case KindActions:
				defaultFalse(aff, "safe", "idempotent")
			}
		}
	}
	return nil
}

func defaultFalse(obj map[string]any, keys ...string) {
	for _, key := range keys {
		if _, ok := obj[key].(bool); !ok {
			obj[key] = false
		}
	}
}

// collectForms validates the forms of every affordance and returns them.
func collectForms(doc map[string]any) ([]map[string]any, error) {
	_, hasBase := doc["base"]

	var all []map[string]any
	for _, kind := range AffordanceKinds {
		label := affordanceLabels[kind]
		affordances := doc[kind].(map[string]any)
		for _, name := range sortedKeys(affordances) {
			aff := affordances[name].(map[string]any)
			details := map[string]any{"affordance": name, "kind": kind}

			raw, ok := aff["forms"]
			if !ok {
				return nil, tderr.Newf(opParse, tderr.CodeParse, "%s '%s' has no forms field", label, name).
					WithDetails(details)
			}
			list, isList := raw.([]any)
			if !isList {
				list = []any{raw}
				aff["forms"] = list
			}

			for _, f := range list {
				form, ok := f.(map[string]any)
				if !ok {
					return nil, tderr.Newf(opParse, tderr.CodeParse, "Form of %s '%s' is not an object", label, name).
						WithDetails(details)
				}
				href, ok := form["href"].(string)
				if !ok {
					return nil, tderr.Newf(opParse, tderr.CodeParse, "Form of %s '%s' has no href field", label, name).
						WithDetails(details)
				}
				if !IsAbsoluteURI(href) && !hasBase {
					return nil, tderr.Newf(opParse, tderr.CodeParse,
						"Form of %s '%s' has relative URI while TD has no base field", label, name).
						WithDetails(details)
				}
				all = append(all, form)
			}
		}
	}
	return all, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MustParse is like Parse but panics on error. It is meant for tests and
// static documents.
func MustParse(data []byte, opts ...ParseOption) *Thing {
	thing, err := Parse(data, opts...)
	if err != nil {
		panic(fmt.Sprintf("td: %v", err))
	}
	return thing
}
