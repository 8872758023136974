package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYIN3_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.ReplayWindow)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*24*time.Hour, cfg.SecondInstallmentOffset)
	assert.Equal(t, 60*24*time.Hour, cfg.ThirdInstallmentOffset)
	assert.Equal(t, 24*time.Hour, cfg.TickInterval)
	assert.Equal(t, "pay-in-3", cfg.GatewayID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAYIN3_CONFIG", "")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("REPLAY_WINDOW", "10m")
	t.Setenv("TICK_WORKERS", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", "https://ops.example, ,https://shop.example")
	t.Setenv("OPERATOR_TOKEN", "op_secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.ReplayWindow)
	assert.Equal(t, 1, cfg.TickWorkers, "unparsable values fall back to the default")
	assert.Equal(t, []string{"https://ops.example", "https://shop.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "op_secret", cfg.OperatorToken)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payin3.yaml")
	content := []byte("webhook_secret: whsec_file\nmax_retries: 4\nmin_order: 50\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("PAYIN3_CONFIG", path)
	t.Setenv("MAX_RETRIES", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "whsec_file", cfg.WebhookSecret)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 50.0, cfg.MinOrder)
	assert.Equal(t, 1000.0, cfg.MaxOrder)
}

func TestLoadFileMissing(t *testing.T) {
	t.Setenv("PAYIN3_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("PAYIN3_CONFIG", "")
	base, err := Load()
	require.NoError(t, err)

	prod := *base
	prod.Environment = "production"
	assert.ErrorContains(t, prod.Validate(), "WEBHOOK_SECRET")

	prod.WebhookSecret = "whsec_live"
	assert.NoError(t, prod.Validate())

	bad := *base
	bad.MaxRetries = 0
	bad.ReplayWindow = 0
	err = bad.Validate()
	assert.ErrorContains(t, err, "MAX_RETRIES")
	assert.ErrorContains(t, err, "REPLAY_WINDOW")

	offsets := *base
	offsets.ThirdInstallmentOffset = offsets.SecondInstallmentOffset
	assert.ErrorContains(t, offsets.Validate(), "offsets")
}
