package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LABELFLOW_CONFIG", "")
	t.Setenv("LABELFLOW_CONCURRENCY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "Europe/London", cfg.Location.String())
	assert.Equal(t, models.PriorityNormal, cfg.Priority)
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Upload)
	assert.Contains(t, cfg.Templates, models.KindQC)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("LABELFLOW_CONFIG", "")
	t.Setenv("LABELFLOW_CONCURRENCY", "8")
	t.Setenv("LABELFLOW_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LABELFLOW_DISPATCH_TIMEOUT", "5s")
	t.Setenv("LABELFLOW_PRIORITY", "urgent")
	t.Setenv("LABELFLOW_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, models.PriorityUrgent, cfg.Priority)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("LABELFLOW_CONFIG", "")

	t.Setenv("LABELFLOW_PRIORITY", "whenever")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LABELFLOW_PRIORITY", "")
	t.Setenv("LABELFLOW_TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: UTC
concurrency: 2
templates:
  qc:
    company: Acme Panels Ltd
printer:
  copies: 3
  priority: high
retry:
  max_attempts: 5
  initial_delay: 50ms
  max_delay: 1s
  backoff_factor: 1.5
`), 0o644))
	t.Setenv("LABELFLOW_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 3, cfg.Copies)
	assert.Equal(t, models.PriorityHigh, cfg.Priority)
	assert.Equal(t, "Acme Panels Ltd", cfg.Templates[models.KindQC].Company)
	assert.NotEmpty(t, cfg.Templates[models.KindQC].Title, "unset template fields keep defaults")
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialDelay)
}

func TestLoadYAMLUnknownTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  pallet:\n    title: x\n"), 0o644))
	t.Setenv("LABELFLOW_CONFIG", path)

	_, err := Load()
	assert.ErrorContains(t, err, "unknown template kind")
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("label printed", "pallet", "090525/14")

	assert.Contains(t, stderr.String(), "pallet=090525/14")
	assert.Contains(t, file.String(), `"pallet":"090525/14"`)
	assert.NotContains(t, file.String(), "hidden")
}
