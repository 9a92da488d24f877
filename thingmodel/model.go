// Package thingmodel composes Thing Models into partial Thing Descriptions.
//
// A Thing Model is a template for Thing Descriptions. It may extend other
// models (links with rel "tm:extends"), import single affordances from them
// ("tm:ref" members), reference submodels (links with rel "tm:submodel") and
// carry "{{KEY}}" placeholders that are filled from a caller-supplied map.
//
// The Composer resolves all of these recursively and returns one partial TD
// per composed model: the root first, followed by the submodels unless self
// composition flattens them into the root.
//
// Example usage:
//
//	composer := thingmodel.NewComposer(thingmodel.WithResolver(resolver.NewLocal()))
//	tds, err := composer.PartialTDsFromURI(ctx, "file://./models/Lamp.tm.json", &thingmodel.CompositionOptions{
//	    Map: map[string]any{"SERIAL": "1234"},
//	})
package thingmodel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wotkit/tdkit/td"
	"github.com/wotkit/tdkit/tderr"
)

// Thing Model vocabulary.
const (
	TypeThingModel = "tm:ThingModel"
	KeyRef         = "tm:ref"
	RelExtends     = "tm:extends"
	RelSubmodel    = "tm:submodel"
	RelType        = "type"
	RelItem        = "item"
	RelCollection  = "collection"
)

// Kind tells Thing Models apart from Thing Descriptions.
type Kind int

const (
	KindThing Kind = iota
	KindThingModel
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindThingModel {
		return "ThingModel"
	}
	return "Thing"
}

// Model is a decoded Thing Model (or partial Thing Description) document.
type Model map[string]any

// Title returns the model title, or "" when it has none.
func (m Model) Title() string {
	title, _ := m["title"].(string)
	return title
}

// Links returns the links of the model with the given rel.
func (m Model) Links(rel string) []map[string]any {
	list, _ := m["links"].([]any)
	var out []map[string]any
	for _, l := range list {
		link, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if r, _ := link["rel"].(string); r == rel {
			out = append(out, link)
		}
	}
	return out
}

// Version returns version.model, or "" when the model is unversioned.
func (m Model) Version() string {
	version, _ := m["version"].(map[string]any)
	model, _ := version["model"].(string)
	return model
}

// Clone returns a deep copy of the model.
func (m Model) Clone() Model {
	return cloneValue(map[string]any(m)).(map[string]any)
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// AsModel converts a decoded document, raw JSON bytes, a Model or any JSON
// encodable value into a fresh Model the caller may modify.
func AsModel(v any) (Model, error) {
	var data []byte
	switch x := v.(type) {
	case Model:
		return x.Clone(), nil
	case map[string]any:
		return Model(x).Clone(), nil
	case []byte:
		data = x
	case json.RawMessage:
		data = x
	case string:
		data = []byte(x)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, tderr.New("thingmodel.AsModel", tderr.CodeParse, "model is not JSON encodable").WithCause(err)
		}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, tderr.New("thingmodel.AsModel", tderr.CodeParse, "invalid JSON").WithCause(err)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, tderr.New("thingmodel.AsModel", tderr.CodeParse, "model must be a JSON object")
	}
	return m, nil
}

// Classify decides whether v is a Thing Model. A document is a Thing Model
// when its @type names tm:ThingModel, when any affordance carries tm:ref, or
// when it links to a model it extends.
func Classify(v any) Kind {
	m, ok := v.(map[string]any)
	if !ok {
		if model, isModel := v.(Model); isModel {
			m = model
		} else {
			return KindThing
		}
	}

	if hasType(m["@type"], TypeThingModel) {
		return KindThingModel
	}
	for _, kind := range td.AffordanceKinds {
		affordances, _ := m[kind].(map[string]any)
		for _, a := range affordances {
			if aff, ok := a.(map[string]any); ok {
				if _, ref := aff[KeyRef]; ref {
					return KindThingModel
				}
			}
		}
	}
	if len(Model(m).Links(RelExtends)) > 0 {
		return KindThingModel
	}
	return KindThing
}

// IsThingModel reports whether v is classified as a Thing Model.
func IsThingModel(v any) bool {
	return Classify(v) == KindThingModel
}

func hasType(v any, name string) bool {
	switch t := v.(type) {
	case string:
		return t == name
	case []any:
		for _, e := range t {
			if s, _ := e.(string); s == name {
				return true
			}
		}
	}
	return false
}

// Ref is a parsed tm:ref value pointing at one affordance of another model.
type Ref struct {
	URI  string
	Kind string
	Name string
}

// String returns the reference in its "<uri>#/<kind>/<name>" form.
func (r Ref) String() string {
	return fmt.Sprintf("%s#/%s/%s", r.URI, r.Kind, r.Name)
}

// ParseRef parses "<uri>#/<properties|actions|events>/<name>".
func ParseRef(ref string) (Ref, error) {
	uri, pointer, found := strings.Cut(ref, "#")
	if !found || uri == "" {
		return Ref{}, tderr.Newf("thingmodel.ParseRef", tderr.CodeInvalidReference, "reference %q has no fragment", ref)
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		return Ref{}, tderr.Newf("thingmodel.ParseRef", tderr.CodeInvalidReference, "reference %q does not name an affordance", ref)
	}
	switch parts[0] {
	case td.KindProperties, td.KindActions, td.KindEvents:
	default:
		return Ref{}, tderr.Newf("thingmodel.ParseRef", tderr.CodeInvalidReference, "reference %q has unknown affordance type %q", ref, parts[0])
	}
	return Ref{URI: uri, Kind: parts[0], Name: parts[1]}, nil
}
