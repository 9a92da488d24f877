package thingmodel

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/wotkit/tdkit/tderr"
)

//go:embed tm-schema.json
var tmSchemaJSON []byte

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tmSchemaJSON))
})

// Validate checks a Thing Model against the Thing Model JSON Schema. All
// violations are reported in one ValidationError, one per line.
func Validate(model any) error {
	const op = "thingmodel.Validate"

	schema, err := loadSchema()
	if err != nil {
		return tderr.New(op, tderr.CodeValidation, "thing model schema does not compile").WithCause(err)
	}

	m, err := AsModel(model)
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any(m)))
	if err != nil {
		return tderr.New(op, tderr.CodeValidation, "thing model could not be validated").WithCause(err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return tderr.New(op, tderr.CodeValidation, strings.Join(messages, "\n")).
		WithDetails(map[string]any{"title": m.Title(), "violations": len(messages)})
}
