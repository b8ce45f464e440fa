package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nodeai/nodeai/engine/registry"
)

// NodeHandler serves the node type catalog
type NodeHandler struct {
	registry *registry.Registry
}

// NewNodeHandler creates a node handler
func NewNodeHandler(reg *registry.Registry) *NodeHandler {
	return &NodeHandler{registry: reg}
}

// ListNodeTypes returns every registered node type with its metadata
// GET /v1/nodes
func (h *NodeHandler) ListNodeTypes(c echo.Context) error {
	types := h.registry.Types()

	catalog := make([]map[string]interface{}, 0, len(types))
	for _, nodeType := range types {
		meta, ok := h.registry.Metadata(nodeType)
		if !ok {
			continue
		}
		catalog = append(catalog, map[string]interface{}{
			"type":              nodeType,
			"display_name":      meta.DisplayName,
			"category":          meta.Category,
			"step_type":         meta.StepType,
			"retrieval_pattern": meta.RetrievalPattern,
			"fatal_on_error":    meta.FatalOnError,
			"config_defaults":   meta.ConfigDefaults,
			"config_schema":     meta.ConfigSchema,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"nodes": catalog,
	})
}
