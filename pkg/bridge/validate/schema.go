// Package validate enforces the wire schema against incoming
// [types.ChatRequest] values before they reach the dispatcher, grounded on
// goadesign-goa-ai's use of santhosh-tekuri/jsonschema/v6 for request-shape
// validation.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// chatRequestSchema is the literal JSON Schema for the wire shape of
// ChatRequest: a model id, a non-empty message list, and optional
// tool/connection/streaming/sampling fields.
const chatRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://kestrel-ai.dev/schemas/chat-request.json",
  "type": "object",
  "required": ["model", "messages"],
  "properties": {
    "model": { "type": "string", "minLength": 3, "pattern": "^[A-Za-z0-9._-]+:[A-Za-z0-9._-]+$" },
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": { "enum": ["system", "user", "assistant", "tool"] },
          "content": { "type": "array" }
        }
      }
    },
    "tools": { "type": "array" },
    "toolConnections": { "type": "object" },
    "stream": { "type": "boolean" },
    "temperature": { "type": "number", "minimum": 0, "maximum": 2 },
    "maxTokens": { "type": "integer", "minimum": 1 },
    "metadata": { "type": "object" }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		var doc any
		if err := json.Unmarshal([]byte(chatRequestSchema), &doc); err != nil {
			compileErr = fmt.Errorf("validate: decoding embedded schema: %w", err)
			return
		}
		const resourceID = "https://kestrel-ai.dev/schemas/chat-request.json"
		if err := c.AddResource(resourceID, doc); err != nil {
			compileErr = fmt.Errorf("validate: registering embedded schema: %w", err)
			return
		}
		sch, err := c.Compile(resourceID)
		if err != nil {
			compileErr = fmt.Errorf("validate: compiling embedded schema: %w", err)
			return
		}
		compiled = sch
	})
	return compiled, compileErr
}

// ChatRequest validates req's wire shape against the embedded schema,
// returning a *bridgeerr.ValidationError describing the first violation
// santhosh-tekuri/jsonschema reports.
func ChatRequest(req types.ChatRequest) error {
	sch, err := compiledSchema()
	if err != nil {
		return &bridgeerr.ValidationError{Message: "schema unavailable", Err: err}
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return &bridgeerr.ValidationError{Message: "encoding request for validation", Err: err}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &bridgeerr.ValidationError{Message: "decoding request for validation", Err: err}
	}

	if err := sch.Validate(doc); err != nil {
		return &bridgeerr.ValidationError{
			Field:   firstInstanceLocation(err),
			Message: err.Error(),
			Err:     err,
		}
	}
	return nil
}

// firstInstanceLocation extracts a best-effort JSON pointer from a
// jsonschema validation error for the ValidationError.Field hint.
func firstInstanceLocation(err error) string {
	var ve *jsonschema.ValidationError
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		ve = verr
	}
	if ve == nil || len(ve.InstanceLocation) == 0 {
		return ""
	}
	return strings.Join(ve.InstanceLocation, "/")
}
