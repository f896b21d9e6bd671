package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/config"
	"github.com/troneras/workflow-orchestrator/pkg/lock"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewLocker returns a Redis locker when redisURL is set and an in-process one
// otherwise. The returned close function is never nil.
func NewLocker(ctx context.Context, logger *slog.Logger, redisURL string) (lock.Locker, func() error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "No Redis URL configured, execution locks only cover this process")

		return lock.NewLocal(nil), func() error { return nil }
	}

	locker, err := lock.NewRedis(ctx, redisURL, "orchestrator")
	if err != nil {
		panic(fmt.Errorf("failed to create Redis locker: %w", err))
	}

	return locker, locker.Close
}

// NewHTTPClient creates a traced HTTP client. A zero timeout leaves calls
// bounded only by their context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// LoadConfig reads the optional YAML file and applies the provider base URL
// flag on top of it.
func LoadConfig(path string, providerBaseURL string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if providerBaseURL != "" {
		cfg.Provider.BaseURL = providerBaseURL
	}

	return cfg, nil
}
