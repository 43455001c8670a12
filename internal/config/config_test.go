package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/runthrough-pairing/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "match-results", cfg.Kafka.Topic)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "standings", cfg.Export.KeyPrefix)

	settings, err := cfg.Pairing.Settings()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PAIRING_REDIS_ADDR", "cache:6380")
	t.Setenv("PAIRING_BUCKET", "club-standings")

	cfg, err := Load(writeConfig(t, `
redis:
  addr: ${PAIRING_REDIS_ADDR}
export:
  enabled: true
  bucket_name: ${PAIRING_BUCKET}
`))
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Export.Enabled)
	assert.Equal(t, "club-standings", cfg.Export.BucketName)
}

func TestPairingSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
pairing:
  display_mode: percentage
  constraint_x: 0
  constraint_y: 1.5
  avoid_same_class: true
`))
	require.NoError(t, err)

	settings, err := cfg.Pairing.Settings()
	require.NoError(t, err)
	assert.Equal(t, domain.DisplayModePercentage, settings.DisplayMode)
	assert.Equal(t, 0, settings.ConstraintX, "an explicit zero is kept")
	assert.Equal(t, 1.5, settings.ConstraintY)
	assert.True(t, settings.AvoidSameClass)
}

func TestPairingSettingsRejectsInvalidValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, "pairing:\n  display_mode: stars\n"))
	require.NoError(t, err)

	_, err = cfg.Pairing.Settings()
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	require.NotNil(t, cfg.Pairing.ConstraintX)
	assert.Equal(t, 3, *cfg.Pairing.ConstraintX)
}
