// Package web provides HTTP handlers and REST API endpoints for workflow executions.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/services"
)

type APIHandlers struct {
	orchestrator *services.Orchestrator
	validator    *validator.Validate
}

func NewAPIHandlers(orchestrator *services.Orchestrator, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		orchestrator: orchestrator,
		validator:    validator,
	}
}

// Register mounts the orchestrator endpoints on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/workflows", h.GetWorkflows)
	router.Get("/workflows/:id", h.GetWorkflow)
	router.Post("/execute", h.Execute)
	router.Get("/executions", h.ListExecutions)
	router.Get("/executions/:id/status", h.GetExecutionStatus)
	router.Get("/executions/:id/webhook", h.GetWebhookStatus)
	router.Post("/executions/:id/webhook/resend", h.ResendWebhook)
}

func success(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Response{Success: true, Data: data})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.orchestrator.Workflows(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return success(c, fiber.StatusOK, fiber.Map{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	detail, err := h.orchestrator.Workflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return success(c, fiber.StatusOK, detail)
}

func (h *APIHandlers) Execute(c fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	var (
		result *services.ExecuteResult
		err    error
	)

	if req.TaskID != nil {
		result, err = h.orchestrator.ExecuteTask(c.Context(), req.ToServiceTask())
	} else {
		result, err = h.orchestrator.Execute(c.Context(), req.ToService())
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return success(c, fiber.StatusCreated, result)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	var query ListExecutionsQuery
	if err := c.Bind().Query(&query); err != nil {
		return unprocessable(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.validator.Struct(query); err != nil {
		return validationFailed(c, err)
	}

	result, err := h.orchestrator.ListExecutions(c.Context(), services.ListExecutionsRequest{
		TaskGroup:   query.TaskGroup,
		Service:     query.Service,
		Operation:   query.Operation,
		ReferenceID: query.ReferenceID,
		Status:      models.ExecutionStatus(query.Status),
		Limit:       query.Limit,
		Offset:      query.Offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return success(c, fiber.StatusOK, result)
}

func (h *APIHandlers) GetExecutionStatus(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Execution ID must be a positive integer")
	}

	report, err := h.orchestrator.Status(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return success(c, fiber.StatusOK, report)
}

func (h *APIHandlers) GetWebhookStatus(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Execution ID must be a positive integer")
	}

	report, err := h.orchestrator.WebhookStatus(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return success(c, fiber.StatusOK, report)
}

func (h *APIHandlers) ResendWebhook(c fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "Execution ID must be a positive integer")
	}

	attempt, err := h.orchestrator.ResendWebhook(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": attempt.IsSuccessful(),
		"message": "Webhook resent",
		"data": fiber.Map{
			"attempt_id":       attempt.ID,
			"attempt_number":   attempt.AttemptNumber,
			"status":           attempt.Status,
			"http_status":      attempt.HTTPStatus,
			"response_time_ms": attempt.ResponseTimeMs,
			"error_message":    attempt.ErrorMessage,
		},
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.orchestrator.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Orchestrator API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Orchestrator API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func idParam(c fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, err
	}

	if id < 1 {
		return 0, strconv.ErrRange
	}

	return id, nil
}
