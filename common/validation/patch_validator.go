package validation

import (
	"fmt"
)

// maxPatchOperations bounds one draft edit
const maxPatchOperations = 100

// PatchValidator validates JSON Patch operations against workflow
// drafts before they are applied.
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// ValidateOperations validates all patch operations
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	if len(operations) > maxPatchOperations {
		return fmt.Errorf("patch validation failed: too many operations (%d, limit %d)", len(operations), maxPatchOperations)
	}

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
	}
	return nil
}

// validateOperation validates a single operation
func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}

	switch opType {
	case "add", "replace":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}

		// Appended nodes and edges get shape-checked up front so a
		// draft can't accumulate entries the validator rejects later
		if path == "/nodes/-" {
			if err := v.validateNodeValue(op["value"], index); err != nil {
				return err
			}
		}
		if path == "/edges/-" {
			if err := v.validateEdgeValue(op["value"], index); err != nil {
				return err
			}
		}

	case "remove", "test":
		return nil

	default:
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}

// validateNodeValue validates a node value in a patch
func (v *PatchValidator) validateNodeValue(value interface{}, opIndex int) error {
	nodeValue, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("operation %d: node value must be an object, got %T", opIndex, value)
	}

	if _, ok := nodeValue["id"].(string); !ok {
		return fmt.Errorf("operation %d: node must have 'id' field (string)", opIndex)
	}

	if _, ok := nodeValue["type"].(string); !ok {
		return fmt.Errorf("operation %d: node must have 'type' field (string)", opIndex)
	}

	// Config MUST be an object, not array/string
	if config, exists := nodeValue["config"]; exists {
		if _, ok := config.(map[string]interface{}); !ok {
			return fmt.Errorf("operation %d: node 'config' must be an object, got %T (hint: use {\"key\": \"value\"}, not [\"key\"])", opIndex, config)
		}
	}

	return nil
}

// validateEdgeValue validates an edge value in a patch
func (v *PatchValidator) validateEdgeValue(value interface{}, opIndex int) error {
	edgeValue, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("operation %d: edge value must be an object, got %T", opIndex, value)
	}

	source, ok := edgeValue["source"].(string)
	if !ok || source == "" {
		return fmt.Errorf("operation %d: edge must have 'source' field (string)", opIndex)
	}

	target, ok := edgeValue["target"].(string)
	if !ok || target == "" {
		return fmt.Errorf("operation %d: edge must have 'target' field (string)", opIndex)
	}

	if source == target {
		return fmt.Errorf("operation %d: edge %q -> %q is self-referential", opIndex, source, target)
	}

	return nil
}
