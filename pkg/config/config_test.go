package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/troneras/workflow-orchestrator/pkg/config"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_OverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	content := `
provider:
  base_url: http://dify.internal
runner:
  stream_timeout: 45s
webhook:
  user_agent: billing-hooks/2.0
health:
  schedule: "@every 1m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://dify.internal", cfg.Provider.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Runner.StreamTimeout)
	assert.Equal(t, 4*time.Hour, cfg.Runner.JobTimeout)
	assert.Equal(t, "billing-hooks/2.0", cfg.Webhook.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, "@every 1m", cfg.Health.Schedule)
	assert.Equal(t, 15*time.Minute, cfg.Health.StaleAfter)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runner: [unclosed"), 0o600))

	_, err = config.Load(path)
	require.Error(t, err)
}
