package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 2, cfg.Store.DefaultMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Signature.Window)
	assert.Equal(t, "rabbitmq", cfg.Dispatch.Binding)
	assert.Equal(t, 168*time.Hour, cfg.Blob.SignedURLTTL)
	assert.Equal(t, 20, cfg.Intake.DailyUploadLimit)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DEFAULT_MAX_ATTEMPTS", "3")
	t.Setenv("DISPATCH_BINDING", "qstash")
	t.Setenv("TELEGRAM_ALLOWED_USER_IDS", "11,22")
	t.Setenv("PUBLIC_BASE_URL", "https://ocr.example.com/")
	t.Setenv("LEDGER_TIMEZONE", "Not/AZone")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 3, cfg.Store.DefaultMaxAttempts)
	assert.Equal(t, "qstash", cfg.Dispatch.Binding)
	assert.Equal(t, []string{"11", "22"}, cfg.Telegram.AllowedUserIDs)
	assert.Equal(t, "https://ocr.example.com", cfg.PublicBaseURL)
	assert.Equal(t, time.UTC, cfg.LedgerLocation())
}

func TestLoadRejectsBadNumber(t *testing.T) {
	t.Setenv("DEFAULT_MAX_ATTEMPTS", "two")
	_, err := Load()
	require.Error(t, err)
}
