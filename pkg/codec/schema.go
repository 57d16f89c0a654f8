package codec

import (
	"encoding/json"
	"sync"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

var (
	schemaOnce   sync.Once
	schemaLoader gojsonschema.JSONLoader
	schemaErr    error
)

// Schema reflects the JSON schema of the export envelope. Fields without
// omitempty are required, unknown fields are allowed so that files written by
// newer clients still import.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(&chat.ExportData{})
	// gojsonschema only knows drafts up to 7, the envelope needs none of the newer keywords
	schema.Version = ""
	schema.ID = ""
	return schema
}

func loader() (gojsonschema.JSONLoader, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(Schema())
		if err != nil {
			schemaErr = errors.Wrap(err, "could not marshal export schema")
			return
		}
		schemaLoader = gojsonschema.NewBytesLoader(b)
	})
	return schemaLoader, schemaErr
}

// Validate checks b against the export schema.
func Validate(b []byte) error {
	l, err := loader()
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(l, gojsonschema.NewBytesLoader(b))
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	return &ValidationError{
		Field:  first.Field(),
		Reason: first.Description(),
	}
}
