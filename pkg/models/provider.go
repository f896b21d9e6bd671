package models

import "time"

// ProviderStatus is the health state of a provider configuration.
type ProviderStatus string

const (
	ProviderStatusActive   ProviderStatus = "active"
	ProviderStatusInactive ProviderStatus = "inactive"
	ProviderStatusError    ProviderStatus = "error"
	ProviderStatusSyncing  ProviderStatus = "syncing"
)

// Provider is the credentialed reference to one remote workflow. Its health is
// tracked independently of any execution.
type Provider struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	WorkflowID      string         `json:"workflow_id"`
	APIKey          string         `json:"api_key"`
	IsActive        bool           `json:"is_active"`
	Status          ProviderStatus `json:"status"`
	StatusMessage   string         `json:"status_message,omitempty"`
	LastStatusCheck *time.Time     `json:"last_status_check,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsHealthy reports whether the provider is enabled and active.
func (p *Provider) IsHealthy() bool {
	return p.IsActive && p.Status == ProviderStatusActive
}

// CanExecute reports whether executions may be started against the provider.
func (p *Provider) CanExecute() bool {
	return p.IsHealthy() && p.Status != ProviderStatusSyncing
}

// MarkAsError records an unhealthy status with a human-readable message.
func (p *Provider) MarkAsError(message string, now time.Time) {
	p.Status = ProviderStatusError
	p.StatusMessage = message
	p.LastStatusCheck = &now
}

// MarkAsActive records a healthy status.
func (p *Provider) MarkAsActive(message string, now time.Time) {
	p.Status = ProviderStatusActive
	p.StatusMessage = message
	p.LastStatusCheck = &now
}

// Task groups executions of one provider under a name.
type Task struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ProviderID  int64          `json:"provider_id"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
