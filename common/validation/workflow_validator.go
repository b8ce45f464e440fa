package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema is the envelope shape accepted by the draft and run
// endpoints. Structural checks deeper than this (unknown node types,
// dangling edges, cycles) are the planner's job.
const workflowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "config": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "source_handle": {"type": "string"},
          "target_handle": {"type": "string"},
          "condition": {"type": "string"}
        }
      }
    }
  }
}`

// WorkflowValidator checks raw workflow documents against the envelope
// schema before they are parsed.
type WorkflowValidator struct {
	schema *gojsonschema.Schema
}

// NewWorkflowValidator compiles the envelope schema
func NewWorkflowValidator() (*WorkflowValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(workflowSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow schema: %w", err)
	}
	return &WorkflowValidator{schema: schema}, nil
}

// ValidateBytes validates a raw workflow document. All schema defects
// are reported in one error.
func (v *WorkflowValidator) ValidateBytes(data []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate workflow document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("workflow validation failed: %s", strings.Join(messages, "; "))
}
