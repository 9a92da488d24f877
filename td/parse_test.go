package td

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotkit/tdkit/tderr"
)

const lampTD = `{
	"@context": "https://www.w3.org/2019/wot/td/v1",
	"id": "urn:dev:wot:com:example:servient:lamp",
	"title": "MyLampThing",
	"securityDefinitions": {"basic_sc": {"scheme": "basic", "in": "header"}},
	"security": "basic_sc",
	"properties": {
		"status": {
			"type": "string",
			"readOnly": "yes",
			"forms": [{"href": "coaps://mylamp.example.com:5683/status", "htv:methodName": "GET"}]
		}
	},
	"actions": {
		"toggle": {
			"forms": [{"href": "coaps://mylamp.example.com:5683/toggle"}]
		}
	},
	"events": {
		"overheating": {
			"data": {"type": "string"},
			"forms": [{"href": "coaps://mylamp.example.com:5683/oh"}]
		}
	}
}`

const baseTD = `{
	"@context": "https://www.w3.org/2019/wot/td/v1",
	"title": "MyTemperatureThing",
	"base": "coap://mytemp.example.com:5683/interactions/",
	"properties": {
		"temperature": {"type": "number", "forms": [{"href": "temp"}]},
		"temperature2": {"type": "number", "forms": [{"href": "./temp"}]},
		"humidity": {"type": "number", "forms": {"href": "/humid"}},
		"with1": {"type": "string", "forms": [{"href": "with1{?step}"}]},
		"with2": {"type": "string", "forms": [{"href": "with2{?step,a}"}]}
	},
	"actions": {
		"reset": {"forms": [{"href": "/actions/reset"}]}
	},
	"events": {
		"update": {"forms": [{"href": "events/update"}]}
	}
}`

func TestParse_Lamp(t *testing.T) {
	thing, err := Parse([]byte(lampTD))
	require.NoError(t, err)

	assert.Equal(t, ContextV1, thing.Context)
	assert.Equal(t, DefaultThingType, thing.Type)
	assert.Equal(t, "urn:dev:wot:com:example:servient:lamp", thing.ID)
	assert.Equal(t, StringList{"basic_sc"}, thing.Security)
	assert.Equal(t, "header", thing.SecurityDefinitions["basic_sc"].In)

	status := thing.Properties["status"]
	require.NotNil(t, status)
	assert.Equal(t, "string", status.Schema.Type)
	assert.False(t, status.Schema.ReadOnly, "non-boolean readOnly must default to false")
	assert.False(t, status.Schema.WriteOnly)
	assert.False(t, status.Observable)
	require.Len(t, status.Forms, 1)
	assert.Equal(t, "GET", status.Forms[0].Extra["htv:methodName"])

	toggle := thing.Actions["toggle"]
	require.NotNil(t, toggle)
	assert.False(t, toggle.Safe)
	assert.False(t, toggle.Idempotent)

	overheating := thing.Events["overheating"]
	require.NotNil(t, overheating)
	require.NotNil(t, overheating.Data)
	assert.Equal(t, "string", overheating.Data.Type)
}

func TestParse_BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"title": "Bom"}`)...)

	thing, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Bom", thing.Title)
}

func TestParse_EmptyAffordanceMaps(t *testing.T) {
	thing, err := Parse([]byte(`{"title": "NoContext", "properties": null, "actions": 7}`))
	require.NoError(t, err)

	assert.Equal(t, []any{ContextV1, ContextV11, map[string]any{"@language": "en"}}, thing.Context)
	assert.Equal(t, "Thing", thing.Type)
	assert.NotNil(t, thing.Properties)
	assert.NotNil(t, thing.Actions)
	assert.NotNil(t, thing.Events)
	assert.Empty(t, thing.Properties)
}

func TestParse_Context(t *testing.T) {
	lang := map[string]any{"@language": "en"}
	custom := map[string]any{"saref": "https://w3id.org/saref#"}

	tests := []struct {
		name    string
		context string
		want    any
	}{
		{
			name:    "v1 string stays a string",
			context: `"https://www.w3.org/2019/wot/td/v1"`,
			want:    ContextV1,
		},
		{
			name:    "v1.1 string stays a string",
			context: `"https://www.w3.org/2022/wot/td/v1.1"`,
			want:    ContextV11,
		},
		{
			name:    "foreign string is promoted",
			context: `"http://www.w3.org/ns/td"`,
			want:    []any{ContextV1, ContextV11, "http://www.w3.org/ns/td", lang},
		},
		{
			name:    "object is promoted",
			context: `{"saref": "https://w3id.org/saref#"}`,
			want:    []any{ContextV1, ContextV11, custom, lang},
		},
		{
			name:    "array without defaults gets both",
			context: `[{"saref": "https://w3id.org/saref#"}]`,
			want:    []any{ContextV1, ContextV11, custom, lang},
		},
		{
			name:    "defaults move to the front",
			context: `[{"saref": "https://w3id.org/saref#"}, "https://www.w3.org/2022/wot/td/v1.1", "https://www.w3.org/2019/wot/td/v1"]`,
			want:    []any{ContextV1, ContextV11, custom, lang},
		},
		{
			name:    "single default moves to the front",
			context: `["http://example.org/x", "https://www.w3.org/2019/wot/td/v1"]`,
			want:    []any{ContextV1, "http://example.org/x", lang},
		},
		{
			name:    "existing language is kept",
			context: `["https://www.w3.org/2019/wot/td/v1", {"@language": "de"}]`,
			want:    []any{ContextV1, map[string]any{"@language": "de"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thing, err := Parse([]byte(`{"title": "Ctx", "@context": ` + tt.context + `}`))
			require.NoError(t, err)
			assert.Equal(t, tt.want, thing.Context)
		})
	}
}

func TestParse_Type(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		want any
	}{
		{name: "default string", typ: `"Thing"`, want: "Thing"},
		{name: "other string", typ: `"saref:LightSwitch"`, want: []any{"Thing", "saref:LightSwitch"}},
		{name: "array without default", typ: `["saref:LightSwitch"]`, want: []any{"Thing", "saref:LightSwitch"}},
		{name: "array with default", typ: `["saref:LightSwitch", "Thing"]`, want: []any{"saref:LightSwitch", "Thing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thing, err := Parse([]byte(`{"title": "Typed", "@type": ` + tt.typ + `}`))
			require.NoError(t, err)
			assert.Equal(t, tt.want, thing.Type)
		})
	}
}

func TestParse_BaseResolution(t *testing.T) {
	thing, err := Parse([]byte(baseTD))
	require.NoError(t, err)

	assert.Equal(t, "coap://mytemp.example.com:5683/interactions/", thing.Base)

	hrefs := map[string]string{
		"temperature":  "coap://mytemp.example.com:5683/interactions/temp",
		"temperature2": "coap://mytemp.example.com:5683/interactions/temp",
		"humidity":     "coap://mytemp.example.com:5683/humid",
		"with1":        "coap://mytemp.example.com:5683/interactions/with1{?step}",
		"with2":        "coap://mytemp.example.com:5683/interactions/with2{?step,a}",
	}
	for name, want := range hrefs {
		prop := thing.Properties[name]
		require.NotNil(t, prop, name)
		require.Len(t, prop.Forms, 1, name)
		assert.Equal(t, want, prop.Forms[0].Href, name)
	}

	assert.Equal(t, "coap://mytemp.example.com:5683/actions/reset", thing.Actions["reset"].Forms[0].Href)
	assert.Equal(t, "coap://mytemp.example.com:5683/interactions/events/update", thing.Events["update"].Forms[0].Href)
}

func TestParse_WithoutNormalization(t *testing.T) {
	thing, err := Parse([]byte(baseTD), WithoutNormalization())
	require.NoError(t, err)

	assert.Equal(t, "temp", thing.Properties["temperature"].Forms[0].Href)
	assert.Equal(t, "/humid", thing.Properties["humidity"].Forms[0].Href)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "missing forms",
			doc:     `{"title": "Broken", "properties": {"status": {"type": "string"}}}`,
			wantMsg: "Property 'status' has no forms field",
		},
		{
			name:    "missing href",
			doc:     `{"title": "Broken", "actions": {"toggle": {"forms": [{"contentType": "application/json"}]}}}`,
			wantMsg: "Form of Action 'toggle' has no href field",
		},
		{
			name:    "relative href without base",
			doc:     `{"title": "Broken", "events": {"overheating": {"forms": [{"href": "oh"}]}}}`,
			wantMsg: "Form of Event 'overheating' has relative URI while TD has no base field",
		},
		{
			name:    "not an object",
			doc:     `[1, 2, 3]`,
			wantMsg: "Thing Description must be a JSON object",
		},
		{
			name:    "malformed json",
			doc:     `{"title": `,
			wantMsg: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thing, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, thing)
			assert.ErrorContains(t, err, tt.wantMsg)
			assert.True(t, errors.Is(err, tderr.ErrParse))

			var tdErr *tderr.Error
			require.True(t, errors.As(err, &tdErr))
			assert.Equal(t, tt.wantMsg, tdErr.Message)
		})
	}
}

func TestParse_WarnsWithoutSecurity(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	_, err := Parse([]byte(`{"title": "Open"}`), WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, logBuf.String(), "no security metadata")

	logBuf.Reset()
	thing, err := Parse([]byte(`{"title": "Closed", "security": "nosec_sc"}`), WithLogger(logger))
	require.NoError(t, err)
	assert.NotContains(t, logBuf.String(), "no security metadata")
	assert.Equal(t, StringList{"nosec_sc"}, thing.Security)
}

func TestThing_MarshalKeepsExtensions(t *testing.T) {
	thing, err := Parse([]byte(`{
		"title": "Ext",
		"profile": "https://www.w3.org/2022/wot/discovery",
		"properties": {
			"luminance": {
				"sensor:unit": "sensor:Candela",
				"type": "number",
				"readOnly": true,
				"forms": [{"href": "mqtt://broker/lum", "mqv:qos": 1}]
			}
		}
	}`))
	require.NoError(t, err)

	lum := thing.Properties["luminance"]
	assert.Equal(t, "sensor:Candela", lum.Extra["sensor:unit"])
	assert.True(t, lum.Schema.ReadOnly)
	assert.Equal(t, "https://www.w3.org/2022/wot/discovery", thing.Extra["profile"])

	data, err := json.Marshal(thing)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "https://www.w3.org/2022/wot/discovery", doc["profile"])

	prop := doc["properties"].(map[string]any)["luminance"].(map[string]any)
	assert.Equal(t, "sensor:Candela", prop["sensor:unit"])
	assert.Equal(t, true, prop["readOnly"])
	assert.Equal(t, false, prop["writeOnly"])
	assert.Equal(t, false, prop["observable"])
	assert.Equal(t, "number", prop["type"])

	form := prop["forms"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(1), form["mqv:qos"])
}

func TestParse_TupleItems(t *testing.T) {
	thing, err := Parse([]byte(`{
		"title": "Tuple",
		"properties": {
			"p": {
				"type": "array",
				"items": [{"type": "number"}, {"type": "string"}],
				"forms": [{"href": "http://x/p"}]
			}
		}
	}`))
	require.NoError(t, err)

	items := thing.Properties["p"].Schema.Items
	require.NotNil(t, items)
	require.Len(t, items.Tuple, 2)
	assert.Equal(t, "number", items.Tuple[0].Type)
	assert.Equal(t, "string", items.Tuple[1].Type)
	assert.NoError(t, thing.ValidatePropertyValue("p", []any{2.0, "x"}))
	assert.Error(t, thing.ValidatePropertyValue("p", []any{"x"}))
}

func TestThing_KeepsVersionAndResponseExtensions(t *testing.T) {
	thing, err := Parse([]byte(`{
		"title": "Versioned",
		"version": {"instance": "1", "firmware": "9"},
		"properties": {
			"p": {
				"type": "string",
				"forms": [{
					"href": "http://x/p",
					"response": {"contentType": "text/plain", "htv:statusCode": 200}
				}]
			}
		}
	}`))
	require.NoError(t, err)
	require.NotNil(t, thing.Version)
	assert.Equal(t, "1", thing.Version.Instance)
	assert.Equal(t, "9", thing.Version.Extra["firmware"])

	response := thing.Properties["p"].Forms[0].Response
	require.NotNil(t, response)
	assert.Equal(t, "text/plain", response.ContentType)
	assert.Equal(t, float64(200), response.Extra["htv:statusCode"])

	data, err := Serialize(thing)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]any{"instance": "1", "firmware": "9"}, doc["version"])

	form := doc["properties"].(map[string]any)["p"].(map[string]any)["forms"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"contentType": "text/plain", "htv:statusCode": float64(200)}, form["response"])
}

func TestThing_AllForms(t *testing.T) {
	thing := MustParse([]byte(lampTD))

	forms := thing.AllForms()
	require.Len(t, forms, 3)
	assert.Equal(t, "coaps://mylamp.example.com:5683/status", forms[0].Href)
	assert.Equal(t, "coaps://mylamp.example.com:5683/toggle", forms[1].Href)
	assert.Equal(t, "coaps://mylamp.example.com:5683/oh", forms[2].Href)
	assert.Equal(t, DefaultContentType, forms[0].MediaType())
}
