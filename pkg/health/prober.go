// Package health checks that provider credentials and workflows are usable
// and records the outcome on the provider.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/provider"
)

const (
	probeUser          = "health-check"
	maxBodyInMessage   = 200
	maxBodyInLogs      = 500
	invalidCredentials = "Invalid API credentials"
)

// Runner is the provider call the prober issues.
type Runner interface {
	RunBlocking(ctx context.Context, provider *models.Provider, request provider.RunRequest) (map[string]any, error)
}

// Result is the outcome of one probe.
type Result struct {
	Healthy bool                  `json:"success"`
	Status  models.ProviderStatus `json:"status"`
	Message string                `json:"message"`
}

// Prober calls the workflow without inputs and reads the response. A provider
// that rejects the request for missing inputs has accepted the credentials,
// so the check never needs to run the workflow for real.
type Prober struct {
	client    Runner
	providers persistence.ProviderRepository
	logger    *slog.Logger
	clock     func() time.Time
}

// NewProber creates a prober that persists status changes through providers.
func NewProber(client Runner, providers persistence.ProviderRepository, logger *slog.Logger, clock func() time.Time) *Prober {
	if clock == nil {
		clock = time.Now
	}

	return &Prober{
		client:    client,
		providers: providers,
		logger:    logger.With("module", "health_prober"),
		clock:     clock,
	}
}

// Probe checks one provider. Server errors are reported but leave the stored
// provider status untouched.
func (p *Prober) Probe(ctx context.Context, target *models.Provider) Result {
	logger := p.logger.With("provider_id", target.ID, "workflow_id", target.WorkflowID)

	_, err := p.client.RunBlocking(ctx, target, provider.RunRequest{User: probeUser})
	if err == nil {
		p.markActive(ctx, target, "Health check successful (workflow executed)")

		return Result{Healthy: true, Status: models.ProviderStatusActive, Message: "Workflow is healthy and executable"}
	}

	apiErr, ok := provider.AsAPIError(err)
	if !ok {
		p.markError(ctx, target, "Health check exception: "+err.Error())
		logger.ErrorContext(ctx, "Workflow health check failed", "error", err)

		return Result{Status: models.ProviderStatusError, Message: err.Error()}
	}

	switch {
	case apiErr.StatusCode == http.StatusBadRequest && mentionsInputs(apiErr.Message):
		p.markActive(ctx, target, "Health check successful (auth validated)")

		return Result{Healthy: true, Status: models.ProviderStatusActive, Message: "Workflow credentials are valid"}
	case apiErr.StatusCode == http.StatusUnauthorized:
		p.markError(ctx, target, invalidCredentials)

		return Result{Status: models.ProviderStatusError, Message: "Health check failed: " + invalidCredentials}
	}

	message := failureMessage(apiErr)

	if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		p.markError(ctx, target, message)
	}

	logger.WarnContext(ctx, "Provider health check failed",
		"http_status", apiErr.StatusCode,
		"error_details", apiErr.Message,
		"response_body", truncate(apiErr.Body, maxBodyInLogs))

	return Result{Status: models.ProviderStatusError, Message: message}
}

func (p *Prober) markActive(ctx context.Context, target *models.Provider, message string) {
	target.MarkAsActive(message, p.clock().UTC())
	p.save(ctx, target)
}

func (p *Prober) markError(ctx context.Context, target *models.Provider, message string) {
	target.MarkAsError(message, p.clock().UTC())
	p.save(ctx, target)
}

// save outlives the probe deadline so a timed out probe is still recorded.
func (p *Prober) save(ctx context.Context, target *models.Provider) {
	if err := p.providers.UpdateStatus(context.WithoutCancel(ctx), target); err != nil {
		p.logger.ErrorContext(ctx, "Failed to persist provider status",
			"provider_id", target.ID, "status", target.Status, "error", err)
	}
}

// mentionsInputs is a wording heuristic: the provider has no dedicated code
// for "credentials fine, inputs missing".
func mentionsInputs(message string) bool {
	lower := strings.ToLower(message)

	return strings.Contains(lower, "input") || strings.Contains(lower, "payload")
}

func failureMessage(apiErr *provider.APIError) string {
	message := fmt.Sprintf("Health check failed. HTTP %d", apiErr.StatusCode)

	switch {
	case apiErr.Message != "":
		message += ": " + apiErr.Message
	case apiErr.Body != "":
		message += ": " + truncate(apiErr.Body, maxBodyInMessage)
	}

	return message
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
