package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/nodeai/nodeai/cmd/nodeaid/container"
	"github.com/nodeai/nodeai/cmd/nodeaid/handlers"
)

// RegisterExecutionRoutes registers the execution endpoints
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c.Executions)
	stream := handlers.NewStreamHandler(c.Executions, c.Components.Logger)

	ex := e.Group("/v1/executions")
	{
		ex.GET("/:id", h.GetExecution)           // GET /v1/executions/:id
		ex.POST("/:id/cancel", h.CancelExecution) // POST /v1/executions/:id/cancel
		ex.GET("/:id/costs", h.GetExecutionCosts) // GET /v1/executions/:id/costs
		ex.GET("/:id/events", stream.StreamEvents) // GET /v1/executions/:id/events (websocket)
	}
}
