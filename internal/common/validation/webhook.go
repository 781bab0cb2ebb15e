// internal/common/validation/webhook.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks inbound payloads against a compiled JSON schema.
// Gateway webhooks arrive from outside the trust boundary; nothing gets to
// a handler before its shape is verified.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the schema once at startup.
func NewValidator(schemaJSON string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns nil for a conforming payload, or an error listing every
// violation.
func (v *Validator) Validate(payload []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("payload invalid: %s", strings.Join(msgs, "; "))
}
