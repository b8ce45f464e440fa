package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/nodeai/nodeai/cmd/nodeaid/container"
	"github.com/nodeai/nodeai/cmd/nodeaid/handlers"
)

// RegisterDraftRoutes registers the workflow draft endpoints
func RegisterDraftRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewDraftHandler(c.Drafts, c.Executions)

	wf := e.Group("/v1/workflows")
	{
		wf.POST("", h.CreateDraft)                 // POST /v1/workflows
		wf.GET("/:id", h.GetDraft)                 // GET /v1/workflows/:id
		wf.PATCH("/:id", h.PatchDraft)             // PATCH /v1/workflows/:id
		wf.DELETE("/:id", h.DeleteDraft)           // DELETE /v1/workflows/:id
		wf.POST("/:id/executions", h.RunDraft)     // POST /v1/workflows/:id/executions
	}
}
