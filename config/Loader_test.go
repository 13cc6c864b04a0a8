package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/model"
)

// inDir runs the test from dir so only its config.yaml is found.
func inDir(t *testing.T, dir string) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	inDir(t, t.TempDir())

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "CP-1", cfg.ChargePoint.Id)
	assert.Equal(t, 1, cfg.ChargePoint.Connectors)
	assert.Equal(t, model.DefaultFirmwareVersion, cfg.ChargePoint.FirmwareVersion)
	assert.Equal(t, model.DefaultFeatures(), cfg.ChargePoint.Features)
	assert.Equal(t, 30*time.Second, cfg.Engine.ResponseTimeout)
	assert.False(t, cfg.Engine.SuppressCallErrors)
	assert.Equal(t, 3*time.Minute, cfg.NATS.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvironment(t *testing.T) {
	inDir(t, t.TempDir())
	t.Setenv("CHARGE_POINT_ID", "CP-42")
	t.Setenv("BACKEND_URL", "ws://localhost:8887/ocpp")
	t.Setenv("EVSE_CHARGE_POINT_CONNECTORS", "3")
	t.Setenv("EVSE_CHARGE_POINT_FEATURES_SMART_CHARGING", "true")
	t.Setenv("EVSE_ENGINE_RESPONSE_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "CP-42", cfg.ChargePoint.Id)
	assert.Equal(t, "ws://localhost:8887/ocpp", cfg.Backend.URL)
	assert.Equal(t, 3, cfg.ChargePoint.Connectors)
	assert.True(t, cfg.ChargePoint.Features.SmartCharging)
	assert.Equal(t, 5*time.Second, cfg.Engine.ResponseTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
charge_point:
  id: CP-FILE
  vendor: Acme
  model: Wallbox
  connectors: 2
  features:
    reservation: true
nats:
  enabled: true
  topic_prefix: site1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	inDir(t, dir)

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "CP-FILE", cfg.ChargePoint.Id)
	assert.Equal(t, "Wallbox", cfg.ChargePoint.Model)
	assert.Equal(t, 2, cfg.ChargePoint.Connectors)
	assert.True(t, cfg.ChargePoint.Features.Reservation)
	assert.True(t, cfg.ChargePoint.Features.Core)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "site1", cfg.NATS.TopicPrefix)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	inDir(t, t.TempDir())
	t.Setenv("EVSE_CHARGE_POINT_CONNECTORS", "0")

	_, err := load(viper.New())
	assert.ErrorContains(t, err, "invalid configuration")

	t.Setenv("EVSE_CHARGE_POINT_CONNECTORS", "1")
	t.Setenv("LOG_LEVEL", "loud")
	_, err = load(viper.New())
	assert.Error(t, err)
}
