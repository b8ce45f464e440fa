package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nodeai/nodeai/cmd/nodeaid/service"
	"github.com/nodeai/nodeai/engine/model"
)

// ExecutionHandler serves execution records and cancellation
type ExecutionHandler struct {
	executions *service.ExecutionService
}

// NewExecutionHandler creates an execution handler
func NewExecutionHandler(executions *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// GetExecution returns an execution record
// GET /v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	exec, err := h.executions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrExecutionNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("execution not found"))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, exec)
}

// CancelExecution requests cancellation of a running execution
// POST /v1/executions/:id/cancel
func (h *ExecutionHandler) CancelExecution(c echo.Context) error {
	executionID := c.Param("id")

	if h.executions.Cancel(executionID) {
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"execution_id": executionID,
			"status":       string(model.ExecutionCanceled),
		})
	}

	// Not in flight: either sealed already or never existed
	if _, err := h.executions.Get(c.Request().Context(), executionID); err == nil {
		return c.JSON(http.StatusConflict, errorBody("execution already finished"))
	}
	return c.JSON(http.StatusNotFound, errorBody("execution not found"))
}

// GetExecutionCosts returns the cost ledger entries for an execution
// GET /v1/executions/:id/costs
func (h *ExecutionHandler) GetExecutionCosts(c echo.Context) error {
	executionID := c.Param("id")

	records, err := h.executions.Costs(c.Request().Context(), executionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	if records == nil {
		records = []*model.CostRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"records":      records,
	})
}
