package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nodeai/nodeai/cmd/nodeaid/service"
)

// DraftHandler serves the workflow draft endpoints
type DraftHandler struct {
	drafts     *service.DraftService
	executions *service.ExecutionService
}

// NewDraftHandler creates a draft handler
func NewDraftHandler(drafts *service.DraftService, executions *service.ExecutionService) *DraftHandler {
	return &DraftHandler{
		drafts:     drafts,
		executions: executions,
	}
}

// CreateDraft stores a new workflow draft
// POST /v1/workflows
func (h *DraftHandler) CreateDraft(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("failed to read request body"))
	}

	id, doc, err := h.drafts.Create(c.Request().Context(), body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"draft_id": id,
		"workflow": doc,
	})
}

// GetDraft returns a draft document
// GET /v1/workflows/:id
func (h *DraftHandler) GetDraft(c echo.Context) error {
	doc, err := h.drafts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return draftError(c, err)
	}
	return c.JSONBlob(http.StatusOK, doc)
}

// PatchDraft applies an RFC6902 patch to a draft
// PATCH /v1/workflows/:id
func (h *DraftHandler) PatchDraft(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("failed to read request body"))
	}

	doc, err := h.drafts.Patch(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return draftError(c, err)
	}
	return c.JSONBlob(http.StatusOK, doc)
}

// DeleteDraft removes a draft
// DELETE /v1/workflows/:id
func (h *DraftHandler) DeleteDraft(c echo.Context) error {
	if err := h.drafts.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return draftError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RunDraft starts an execution of a draft
// POST /v1/workflows/:id/executions
func (h *DraftHandler) RunDraft(c echo.Context) error {
	wf, err := h.drafts.Parse(c.Request().Context(), c.Param("id"))
	if err != nil {
		return draftError(c, err)
	}

	executionID := h.executions.Start(wf)
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"execution_id": executionID,
		"workflow_id":  wf.ID,
		"status":       "running",
	})
}

func draftError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrDraftNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("draft not found"))
	}
	return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}
