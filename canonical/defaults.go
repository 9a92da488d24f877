package canonical

import "github.com/wotkit/tdkit/td"

// securityDefaults are the default members of each security scheme.
var securityDefaults = map[string]map[string]string{
	"basic":  {"in": "header"},
	"digest": {"in": "header", "qop": "auth"},
	"bearer": {"alg": "ES256", "format": "jwt", "in": "header"},
	"apikey": {"in": "query"},
}

// eventSchemas are the data schema members of an event affordance.
var eventSchemas = []string{"subscription", "data", "dataResponse", "cancellation"}

func applyDefaults(thing map[string]any) {
	if defs, ok := thing["securityDefinitions"].(map[string]any); ok {
		for _, def := range defs {
			if scheme, ok := def.(map[string]any); ok {
				applySecurityDefaults(scheme)
			}
		}
	}

	eachAffordance(thing, td.KindProperties, func(prop map[string]any) {
		setDefault(prop, "readOnly", false)
		setDefault(prop, "writeOnly", false)
		setDefault(prop, "observable", false)
		applyFormDefaults(prop, propertyOps(prop))
	})

	eachAffordance(thing, td.KindActions, func(action map[string]any) {
		setDefault(action, "safe", false)
		setDefault(action, "idempotent", false)
		applySchemaDefaults(action, "input", "output")
		applyFormDefaults(action, []any{td.OpInvokeAction})
	})

	eachAffordance(thing, td.KindEvents, func(event map[string]any) {
		applySchemaDefaults(event, eventSchemas...)
		applyFormDefaults(event, []any{td.OpSubscribeEvent, td.OpUnsubscribeEvent})
	})

	applyFormDefaults(thing, nil)
}

func applySecurityDefaults(scheme map[string]any) {
	name, _ := scheme["scheme"].(string)
	for key, value := range securityDefaults[name] {
		if _, set := scheme[key]; !set {
			scheme[key] = value
		}
	}
}

func eachAffordance(thing map[string]any, kind string, fn func(map[string]any)) {
	affordances, ok := thing[kind].(map[string]any)
	if !ok {
		return
	}
	for _, a := range affordances {
		if aff, ok := a.(map[string]any); ok {
			fn(aff)
		}
	}
}

// setDefault sets key to value unless it already holds a boolean.
func setDefault(obj map[string]any, key string, value bool) {
	if _, ok := obj[key].(bool); !ok {
		obj[key] = value
	}
}

func applySchemaDefaults(aff map[string]any, keys ...string) {
	for _, key := range keys {
		if schema, ok := aff[key].(map[string]any); ok {
			setDefault(schema, "readOnly", false)
			setDefault(schema, "writeOnly", false)
		}
	}
}

// propertyOps returns the default operations of a property's forms.
func propertyOps(prop map[string]any) []any {
	readOnly, _ := prop["readOnly"].(bool)
	writeOnly, _ := prop["writeOnly"].(bool)
	switch {
	case readOnly && !writeOnly:
		return []any{td.OpReadProperty}
	case writeOnly && !readOnly:
		return []any{td.OpWriteProperty}
	default:
		return []any{td.OpReadProperty, td.OpWriteProperty}
	}
}

// applyFormDefaults fills contentType and, when ops is non-nil, op on every
// form of the owner. An injected op is always a list; an op the document
// sets keeps its own shape.
func applyFormDefaults(owner map[string]any, ops []any) {
	forms, ok := owner["forms"].([]any)
	if !ok {
		return
	}
	for _, f := range forms {
		form, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if _, set := form["contentType"]; !set {
			form["contentType"] = td.DefaultContentType
		}
		if _, set := form["op"]; !set && ops != nil {
			form["op"] = append([]any(nil), ops...)
		}
	}
}
