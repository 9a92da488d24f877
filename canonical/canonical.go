// Package canonical produces the canonical serialization of a Thing
// Description.
//
// The canonical form is used for equality checks and signing. It is produced
// in a fixed order of steps:
//
//  1. the document is decoded; anything other than a JSON object has no
//     canonical form
//  2. created and modified are rewritten to second precision in UTC
//  3. every default value defined for TDs is written explicitly
//  4. single-element @context and @type arrays become single values
//  5. the result is written with sorted keys and no whitespace, numbers in
//     the shortest round-trip form
//
// Canonicalize is idempotent: its output canonicalizes to itself.
package canonical

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/wotkit/tdkit/tderr"
)

const opCanonicalize = "canonical.Canonicalize"

// canonicalTime is the date-time layout of the canonical form.
const canonicalTime = "2006-01-02T15:04:05Z"

// dateLayouts are tried in order when reading created and modified.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Canonicalize returns the canonical form of a TD document. ok is false when
// the document is valid JSON but not an object; malformed JSON is an error.
func Canonicalize(data []byte) (canonical string, ok bool, err error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false, tderr.New(opCanonicalize, tderr.CodeParse, "invalid JSON").WithCause(err)
	}
	return canonicalizeDecoded(doc)
}

// CanonicalizeValue canonicalizes an already decoded document. The value is
// copied first, so the caller's document is not modified.
func CanonicalizeValue(v any) (string, bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false, tderr.New(opCanonicalize, tderr.CodeParse, "value is not JSON encodable").WithCause(err)
	}
	return Canonicalize(data)
}

// Equal reports whether two TD documents have the same canonical form.
// Documents without a canonical form are never equal.
func Equal(a, b []byte) (bool, error) {
	ca, okA, err := Canonicalize(a)
	if err != nil {
		return false, err
	}
	cb, okB, err := Canonicalize(b)
	if err != nil {
		return false, err
	}
	return okA && okB && ca == cb, nil
}

func canonicalizeDecoded(doc any) (string, bool, error) {
	thing, ok := doc.(map[string]any)
	if !ok {
		return "", false, nil
	}

	for _, key := range []string{"created", "modified"} {
		if s, isString := thing[key].(string); isString {
			thing[key] = canonicalDateTime(s)
		}
	}

	applyDefaults(thing)

	for _, key := range []string{"@context", "@type"} {
		if list, isList := thing[key].([]any); isList && len(list) == 1 {
			thing[key] = list[0]
		}
	}

	var buf bytes.Buffer
	writeValue(&buf, thing)
	return buf.String(), true, nil
}

// canonicalDateTime truncates a date-time to seconds in UTC. Values that do
// not parse are returned unchanged.
func canonicalDateTime(s string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(canonicalTime)
		}
	}
	return s
}
