package envelope

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema describes the structural rules every inbound envelope must
// satisfy before it is routed.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "id":           {"type": ["integer", "string"]},
    "key":          {"type": "string"},
    "request":      {"type": "string"},
    "appGuid":      {"type": "string"},
    "instanceGuid": {"type": "string"},
    "needsReply":   {"type": "boolean"}
  },
  "not": {"required": ["result", "error"]}
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

// ValidationError lists the rules an envelope broke.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope: %s", strings.Join(e.Details, "; "))
}

// Validate checks env against the envelope schema.
func Validate(env *Envelope) error {
	if env == nil {
		return ErrEmpty
	}
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	})
	if schemaErr != nil {
		return fmt.Errorf("failed to compile envelope schema: %w", schemaErr)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(env))
	if err != nil {
		return fmt.Errorf("failed to validate envelope: %w", err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &ValidationError{Details: details}
}
