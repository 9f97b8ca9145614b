package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var envelopeSchema string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// ValidateEnvelope checks a recovered envelope against the wire schema.
// Validation is advisory: callers log a warning on failure and keep the
// envelope, since a partially conforming response is still usable.
func ValidateEnvelope(raw string) error {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("envelope.schema.json", envelopeSchema)
	})
	if schemaErr != nil {
		return fmt.Errorf("compile envelope schema: %w", schemaErr)
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("envelope schema: %w", err)
	}
	return nil
}
