package td

import (
	"encoding/json"
	"reflect"
)

// Well-known Thing Description values.
const (
	// ContextV1 is the TD 1.0 JSON-LD context URI.
	ContextV1 = "https://www.w3.org/2019/wot/td/v1"

	// ContextV11 is the TD 1.1 JSON-LD context URI.
	ContextV11 = "https://www.w3.org/2022/wot/td/v1.1"

	DefaultLanguage    = "en"
	DefaultThingType   = "Thing"
	DefaultContentType = "application/json"

	// MediaTypeTD identifies a Thing Description in link objects.
	MediaTypeTD = "application/td+json"

	// MediaTypeTM identifies a Thing Model in link objects.
	MediaTypeTM = "application/tm+json"
)

// Operation types carried in Form.Op.
const (
	OpReadProperty            = "readproperty"
	OpWriteProperty           = "writeproperty"
	OpObserveProperty         = "observeproperty"
	OpUnobserveProperty       = "unobserveproperty"
	OpInvokeAction            = "invokeaction"
	OpSubscribeEvent          = "subscribeevent"
	OpUnsubscribeEvent        = "unsubscribeevent"
	OpReadAllProperties       = "readallproperties"
	OpWriteAllProperties      = "writeallproperties"
	OpReadMultipleProperties  = "readmultipleproperties"
	OpWriteMultipleProperties = "writemultipleproperties"
)

// Affordance kinds as they appear as top-level TD keys.
const (
	KindProperties = "properties"
	KindActions    = "actions"
	KindEvents     = "events"
)

// AffordanceKinds lists the affordance maps in document order.
var AffordanceKinds = []string{KindProperties, KindActions, KindEvents}

// Thing is a parsed Thing Description.
//
// The affordance maps are never nil after Parse. Keys the struct does not
// model (protocol vocabularies, profile, ...) are kept in Extra and written
// back on marshal.
type Thing struct {
	// Context is a string or a []any of strings and objects.
	Context any `json:"@context"`

	// Type is a string or a []any of strings.
	Type any `json:"@type,omitempty"`

	ID                  string                         `json:"id,omitempty"`
	Title               string                         `json:"title,omitempty"`
	Titles              map[string]string              `json:"titles,omitempty"`
	Description         string                         `json:"description,omitempty"`
	Descriptions        map[string]string              `json:"descriptions,omitempty"`
	Version             *VersionInfo                   `json:"version,omitempty"`
	Created             string                         `json:"created,omitempty"`
	Modified            string                         `json:"modified,omitempty"`
	Support             string                         `json:"support,omitempty"`
	Base                string                         `json:"base,omitempty"`
	Security            StringList                     `json:"security,omitempty"`
	SecurityDefinitions map[string]SecurityScheme      `json:"securityDefinitions,omitempty"`
	SchemaDefinitions   map[string]DataSchema          `json:"schemaDefinitions,omitempty"`
	Properties          map[string]*PropertyAffordance `json:"properties"`
	Actions             map[string]*ActionAffordance   `json:"actions"`
	Events              map[string]*EventAffordance    `json:"events"`
	Links               []Link                         `json:"links,omitempty"`
	Forms               []Form                         `json:"forms,omitempty"`

	Extra map[string]any `json:"-"`
}

// VersionInfo carries the instance and model versions of a TD.
type VersionInfo struct {
	Instance string `json:"instance,omitempty"`
	Model    string `json:"model,omitempty"`

	Extra map[string]any `json:"-"`
}

// InteractionAffordance holds the fields shared by properties, actions and
// events.
type InteractionAffordance struct {
	SemanticType StringList            `json:"@type,omitempty"`
	Title        string                `json:"title,omitempty"`
	Titles       map[string]string     `json:"titles,omitempty"`
	Description  string                `json:"description,omitempty"`
	Descriptions map[string]string     `json:"descriptions,omitempty"`
	Forms        []Form                `json:"forms"`
	URIVariables map[string]DataSchema `json:"uriVariables,omitempty"`
	Security     StringList            `json:"security,omitempty"`
}

// PropertyAffordance is a property of a Thing. Its data schema keys share
// the property object, so Schema is decoded from and encoded into the same
// JSON object as the interaction fields.
type PropertyAffordance struct {
	InteractionAffordance
	Schema     DataSchema `json:"-"`
	Observable bool       `json:"observable"`

	Extra map[string]any `json:"-"`
}

// ActionAffordance is an action of a Thing.
type ActionAffordance struct {
	InteractionAffordance
	Input       *DataSchema `json:"input,omitempty"`
	Output      *DataSchema `json:"output,omitempty"`
	Safe        bool        `json:"safe"`
	Idempotent  bool        `json:"idempotent"`
	Synchronous *bool       `json:"synchronous,omitempty"`

	Extra map[string]any `json:"-"`
}

// EventAffordance is an event of a Thing.
type EventAffordance struct {
	InteractionAffordance
	Subscription *DataSchema `json:"subscription,omitempty"`
	Data         *DataSchema `json:"data,omitempty"`
	DataResponse *DataSchema `json:"dataResponse,omitempty"`
	Cancellation *DataSchema `json:"cancellation,omitempty"`

	Extra map[string]any `json:"-"`
}

// Form is one protocol binding of an affordance. Protocol vocabulary such as
// htv:methodName, mqtt:qos or opcua:nodeId ends up in Extra.
type Form struct {
	Href          string            `json:"href"`
	ContentType   string            `json:"contentType,omitempty"`
	ContentCoding string            `json:"contentCoding,omitempty"`
	Subprotocol   string            `json:"subprotocol,omitempty"`
	Op            StringList        `json:"op,omitempty"`
	Security      StringList        `json:"security,omitempty"`
	Scopes        StringList        `json:"scopes,omitempty"`
	Response      *ExpectedResponse `json:"response,omitempty"`

	Extra map[string]any `json:"-"`
}

// ExpectedResponse describes the response of a form.
type ExpectedResponse struct {
	ContentType string `json:"contentType"`

	Extra map[string]any `json:"-"`
}

// SecurityScheme is an entry of securityDefinitions.
type SecurityScheme struct {
	SemanticType  StringList        `json:"@type,omitempty"`
	Scheme        string            `json:"scheme"`
	Description   string            `json:"description,omitempty"`
	Descriptions  map[string]string `json:"descriptions,omitempty"`
	Proxy         string            `json:"proxy,omitempty"`
	In            string            `json:"in,omitempty"`
	Name          string            `json:"name,omitempty"`
	QOP           string            `json:"qop,omitempty"`
	Authorization string            `json:"authorization,omitempty"`
	Alg           string            `json:"alg,omitempty"`
	Format        string            `json:"format,omitempty"`
	Token         string            `json:"token,omitempty"`
	Refresh       string            `json:"refresh,omitempty"`
	Scopes        StringList        `json:"scopes,omitempty"`
	Flow          string            `json:"flow,omitempty"`

	Extra map[string]any `json:"-"`
}

// Link is a web link of a Thing.
type Link struct {
	Href     string     `json:"href"`
	Type     string     `json:"type,omitempty"`
	Rel      string     `json:"rel,omitempty"`
	Anchor   string     `json:"anchor,omitempty"`
	Sizes    string     `json:"sizes,omitempty"`
	HrefLang StringList `json:"hreflang,omitempty"`

	Extra map[string]any `json:"-"`
}

// MediaType returns the form content type, falling back to application/json.
func (f Form) MediaType() string {
	if f.ContentType == "" {
		return DefaultContentType
	}
	return f.ContentType
}

// HasOp reports whether the form declares op.
func (f Form) HasOp(op string) bool {
	return f.Op.Contains(op)
}

// Types returns the Thing's @type as a list.
func (t *Thing) Types() []string {
	return stringsOf(t.Type)
}

// Contexts returns the string entries of the Thing's @context.
func (t *Thing) Contexts() []string {
	return stringsOf(t.Context)
}

// AllForms returns pointers to every affordance form, properties first,
// then actions, then events, each kind in name order.
func (t *Thing) AllForms() []*Form {
	var forms []*Form
	for _, name := range sortedKeys(t.Properties) {
		forms = appendForms(forms, t.Properties[name].Forms)
	}
	for _, name := range sortedKeys(t.Actions) {
		forms = appendForms(forms, t.Actions[name].Forms)
	}
	for _, name := range sortedKeys(t.Events) {
		forms = appendForms(forms, t.Events[name].Forms)
	}
	return forms
}

func appendForms(dst []*Form, src []Form) []*Form {
	for i := range src {
		dst = append(dst, &src[i])
	}
	return dst
}

func stringsOf(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var (
	thingType          = reflect.TypeOf(plainThing{})
	propertyType       = reflect.TypeOf(plainProperty{})
	actionType         = reflect.TypeOf(plainAction{})
	eventType          = reflect.TypeOf(plainEvent{})
	formType           = reflect.TypeOf(plainForm{})
	dataSchemaType     = reflect.TypeOf(plainDataSchema{})
	securitySchemeType = reflect.TypeOf(plainSecurityScheme{})
	linkType           = reflect.TypeOf(plainLink{})
	versionType        = reflect.TypeOf(plainVersion{})
	responseType       = reflect.TypeOf(plainResponse{})
)

type (
	plainThing          Thing
	plainProperty       PropertyAffordance
	plainAction         ActionAffordance
	plainEvent          EventAffordance
	plainForm           Form
	plainDataSchema     DataSchema
	plainSecurityScheme SecurityScheme
	plainLink           Link
	plainVersion        VersionInfo
	plainResponse       ExpectedResponse
)

// UnmarshalJSON decodes a Thing and keeps unknown keys in Extra.
func (t *Thing) UnmarshalJSON(data []byte) error {
	var p plainThing
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, thingType)
	if err != nil {
		return err
	}
	*t = Thing(p)
	t.Extra = extra
	return nil
}

// MarshalJSON encodes a Thing including its Extra keys.
func (t Thing) MarshalJSON() ([]byte, error) {
	return mergeObjects(t.Extra, plainThing(t))
}

// UnmarshalJSON decodes the interaction fields and the data schema from the
// same object.
func (p *PropertyAffordance) UnmarshalJSON(data []byte) error {
	var plain plainProperty
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	var schema plainDataSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return err
	}
	extra, err := extraFields(data, propertyType, dataSchemaType)
	if err != nil {
		return err
	}
	*p = PropertyAffordance(plain)
	p.Schema = DataSchema(schema)
	p.Extra = extra
	return nil
}

// MarshalJSON writes the data schema and interaction fields into one object.
// readOnly and writeOnly are always present.
func (p PropertyAffordance) MarshalJSON() ([]byte, error) {
	flags := map[string]bool{
		"readOnly":  p.Schema.ReadOnly,
		"writeOnly": p.Schema.WriteOnly,
	}
	return mergeObjects(p.Extra, plainDataSchema(p.Schema), plainProperty(p), flags)
}

// UnmarshalJSON decodes an action and keeps unknown keys in Extra.
func (a *ActionAffordance) UnmarshalJSON(data []byte) error {
	var plain plainAction
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, actionType)
	if err != nil {
		return err
	}
	*a = ActionAffordance(plain)
	a.Extra = extra
	return nil
}

// MarshalJSON encodes an action including its Extra keys.
func (a ActionAffordance) MarshalJSON() ([]byte, error) {
	return mergeObjects(a.Extra, plainAction(a))
}

// UnmarshalJSON decodes an event and keeps unknown keys in Extra.
func (e *EventAffordance) UnmarshalJSON(data []byte) error {
	var plain plainEvent
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, eventType)
	if err != nil {
		return err
	}
	*e = EventAffordance(plain)
	e.Extra = extra
	return nil
}

// MarshalJSON encodes an event including its Extra keys.
func (e EventAffordance) MarshalJSON() ([]byte, error) {
	return mergeObjects(e.Extra, plainEvent(e))
}

// UnmarshalJSON decodes a form and keeps protocol vocabulary in Extra.
func (f *Form) UnmarshalJSON(data []byte) error {
	var plain plainForm
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, formType)
	if err != nil {
		return err
	}
	*f = Form(plain)
	f.Extra = extra
	return nil
}

// MarshalJSON encodes a form including its Extra keys.
func (f Form) MarshalJSON() ([]byte, error) {
	return mergeObjects(f.Extra, plainForm(f))
}

// UnmarshalJSON decodes a data schema and keeps unknown keys in Extra.
func (s *DataSchema) UnmarshalJSON(data []byte) error {
	var plain plainDataSchema
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, dataSchemaType)
	if err != nil {
		return err
	}
	*s = DataSchema(plain)
	s.Extra = extra
	return nil
}

// MarshalJSON encodes a data schema including its Extra keys.
func (s DataSchema) MarshalJSON() ([]byte, error) {
	return mergeObjects(s.Extra, plainDataSchema(s))
}

// UnmarshalJSON decodes a security scheme and keeps unknown keys in Extra.
func (s *SecurityScheme) UnmarshalJSON(data []byte) error {
	var plain plainSecurityScheme
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, securitySchemeType)
	if err != nil {
		return err
	}
	*s = SecurityScheme(plain)
	s.Extra = extra
	return nil
}

// MarshalJSON encodes a security scheme including its Extra keys.
func (s SecurityScheme) MarshalJSON() ([]byte, error) {
	return mergeObjects(s.Extra, plainSecurityScheme(s))
}

// UnmarshalJSON decodes a link and keeps unknown keys in Extra.
func (l *Link) UnmarshalJSON(data []byte) error {
	var plain plainLink
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, linkType)
	if err != nil {
		return err
	}
	*l = Link(plain)
	l.Extra = extra
	return nil
}

// MarshalJSON encodes a link including its Extra keys.
func (l Link) MarshalJSON() ([]byte, error) {
	return mergeObjects(l.Extra, plainLink(l))
}

// UnmarshalJSON decodes version information and keeps unknown keys in Extra.
func (v *VersionInfo) UnmarshalJSON(data []byte) error {
	var plain plainVersion
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, versionType)
	if err != nil {
		return err
	}
	*v = VersionInfo(plain)
	v.Extra = extra
	return nil
}

// MarshalJSON encodes version information including its Extra keys.
func (v VersionInfo) MarshalJSON() ([]byte, error) {
	return mergeObjects(v.Extra, plainVersion(v))
}

// UnmarshalJSON decodes an expected response and keeps unknown keys in Extra.
func (r *ExpectedResponse) UnmarshalJSON(data []byte) error {
	var plain plainResponse
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	extra, err := extraFields(data, responseType)
	if err != nil {
		return err
	}
	*r = ExpectedResponse(plain)
	r.Extra = extra
	return nil
}

// MarshalJSON encodes an expected response including its Extra keys.
func (r ExpectedResponse) MarshalJSON() ([]byte, error) {
	return mergeObjects(r.Extra, plainResponse(r))
}
