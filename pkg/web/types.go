// Package web provides HTTP request and response types for the orchestrator API.
package web

import (
	"github.com/troneras/workflow-orchestrator/pkg/services"
)

// Response is the envelope of every successful API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ExecuteContext identifies the calling system.
type ExecuteContext struct {
	Service     string `json:"service"      validate:"omitempty,max=100"`
	Operation   string `json:"operation"    validate:"omitempty,max=100"`
	ReferenceID string `json:"reference_id" validate:"omitempty,max=255"`
}

// ExecuteRequest represents the request body for starting a workflow execution.
// TaskID selects the task-based path; ServiceName and ReferenceID belong to it.
type ExecuteRequest struct {
	Workflow   string          `json:"workflow"    validate:"required_without=TaskID,max=255"`
	TaskGroup  string          `json:"task_group"  validate:"omitempty,max=100"`
	Inputs     map[string]any  `json:"inputs"      validate:"required"`
	Context    *ExecuteContext `json:"context"`
	WebhookURL string          `json:"webhook_url" validate:"omitempty,url"`

	TaskID      *int64 `json:"task_id"      validate:"omitempty,min=1"`
	ServiceName string `json:"service_name" validate:"omitempty,max=100"`
	ReferenceID string `json:"reference_id" validate:"omitempty,max=255"`
}

// ToService converts the body of a workflow-based request.
func (r ExecuteRequest) ToService() services.ExecuteRequest {
	req := services.ExecuteRequest{
		Workflow:   r.Workflow,
		TaskGroup:  r.TaskGroup,
		Inputs:     r.Inputs,
		WebhookURL: r.WebhookURL,
	}

	if r.Context != nil {
		req.Context = services.ExecutionContext{
			Service:     r.Context.Service,
			Operation:   r.Context.Operation,
			ReferenceID: r.Context.ReferenceID,
		}
	}

	return req
}

// ToServiceTask converts the body of a task-based request.
func (r ExecuteRequest) ToServiceTask() services.ExecuteTaskRequest {
	return services.ExecuteTaskRequest{
		TaskID:      *r.TaskID,
		Inputs:      r.Inputs,
		WebhookURL:  r.WebhookURL,
		ServiceName: r.ServiceName,
		ReferenceID: r.ReferenceID,
	}
}

// ListExecutionsQuery represents the query string of an execution listing.
type ListExecutionsQuery struct {
	TaskGroup   string `query:"task_group"`
	Service     string `query:"service"`
	Operation   string `query:"operation"`
	ReferenceID string `query:"reference_id"`
	Status      string `query:"status"       validate:"omitempty,oneof=pending running completed failed"`
	Limit       int    `query:"limit"        validate:"omitempty,min=1,max=100"`
	Offset      int    `query:"offset"       validate:"min=0"`
}
