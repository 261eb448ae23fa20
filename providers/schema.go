package providers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateJSONSchemaDoc checks that raw is a syntactically valid JSON Schema
// document (draft 2020-12 by default), without validating any instance
// against it. Used to reject malformed tool parameter schemas and
// response_format json_schema documents at request validation time, rather
// than deferring the failure to the provider call.
func validateJSONSchemaDoc(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const resource = "request-schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("invalid JSON schema: %w", err)
	}
	if _, err := c.Compile(resource); err != nil {
		return fmt.Errorf("invalid JSON schema: %w", err)
	}
	return nil
}
