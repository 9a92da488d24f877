package td

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/wotkit/tdkit/tderr"
)

const (
	opSerialize = "td.Serialize"
	opFindPort  = "td.FindPort"
)

// NoSecurityScheme is the name Serialize gives the injected nosec scheme.
const NoSecurityScheme = "nosec_sc"

// Serialize encodes a Thing as a TD document. A Thing without security gets
// a nosec scheme, empty affordance maps, forms and links are dropped, and the
// boolean defaults of properties and actions are written explicitly.
func Serialize(t *Thing) ([]byte, error) {
	if t == nil {
		return nil, tderr.New(opSerialize, tderr.CodeSerialize, "cannot serialize nil Thing")
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, tderr.New(opSerialize, tderr.CodeSerialize, "failed to marshal Thing").WithCause(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, tderr.New(opSerialize, tderr.CodeSerialize, "failed to decode marshaled Thing").WithCause(err)
	}

	if sec, _ := doc["security"].([]any); len(sec) == 0 {
		doc["securityDefinitions"] = map[string]any{
			NoSecurityScheme: map[string]any{"scheme": "nosec"},
		}
		doc["security"] = []any{NoSecurityScheme}
	}

	for _, key := range []string{"forms", "links"} {
		if list, ok := doc[key].([]any); ok && len(list) == 0 {
			delete(doc, key)
		}
	}

	for _, kind := range AffordanceKinds {
		affordances, _ := doc[kind].(map[string]any)
		if len(affordances) == 0 {
			delete(doc, kind)
			continue
		}
		for _, a := range affordances {
			aff, ok := a.(map[string]any)
			if !ok {
				continue
			}
			switch kind {
			case KindProperties:
				defaultFalse(aff, "readOnly", "writeOnly", "observable")
			case KindActions:
				defaultFalse(aff, "idempotent", "safe")
			}
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, tderr.New(opSerialize, tderr.CodeSerialize, "failed to encode TD document").WithCause(err)
	}
	return out, nil
}

// FindProtocol returns the scheme of the Thing's base URI, or "" when the
// Thing has no base.
func FindProtocol(t *Thing) string {
	scheme, _, ok := strings.Cut(t.Base, ":")
	if !ok {
		return ""
	}
	return scheme
}

// FindPort returns the explicit port of the Thing's base URI.
func FindPort(t *Thing) (int, error) {
	r := splitReference(t.Base)
	if !r.hasAuthority {
		return 0, tderr.Newf(opFindPort, tderr.CodeParse, "base %q has no authority", t.Base)
	}

	host := r.authority
	if i := strings.LastIndexByte(host, '@'); i >= 0 {
		host = host[i+1:]
	}
	i := strings.LastIndexByte(host, ':')
	if i < 0 || strings.HasSuffix(host, "]") {
		return 0, tderr.Newf(opFindPort, tderr.CodeParse, "base %q has no port", t.Base)
	}

	port, err := strconv.Atoi(host[i+1:])
	if err != nil {
		return 0, tderr.Newf(opFindPort, tderr.CodeParse, "invalid port in base %q", t.Base).WithCause(err)
	}
	return port, nil
}
