package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/nodeai/nodeai/cmd/nodeaid/container"
	"github.com/nodeai/nodeai/cmd/nodeaid/handlers"
)

// RegisterNodeRoutes registers the node catalog endpoint
func RegisterNodeRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewNodeHandler(c.Registry)

	e.GET("/v1/nodes", h.ListNodeTypes)
}
