package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"USSDPILOT_CONFIG", "PORT", "USSDPILOT_ADDR", "USSDPILOT_DATABASE_PATH",
		"DATABASE_PATH", "USSDPILOT_API_SECRET", "USSDPILOT_ALLOWED_ORIGINS",
		"USSDPILOT_DEBUG", "DEBUG", "USSDPILOT_LOG_LEVEL", "USSDPILOT_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "USSDPILOT_DIAL_CODE", "USSDPILOT_OPENING_BALANCE",
		"USSDPILOT_CONFIRM_MODE", "USSDPILOT_STRATEGY", "USSDPILOT_QUIET_INTERVAL",
	} {
		t.Setenv(k, "")
	}
	// AUTO_PIN is read with LookupEnv, so it must be truly unset.
	t.Setenv("USSDPILOT_AUTO_PIN", "")
	os.Unsetenv("USSDPILOT_AUTO_PIN")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "*219#", cfg.Session.DialCode)
	require.Equal(t, "0303", cfg.Session.AutoPIN)
	require.Equal(t, int64(1500), cfg.Session.OpeningBalance)
	require.Equal(t, ConfirmPIN, cfg.Session.ConfirmMode)
	require.Equal(t, surface.Gentle, cfg.Session.Strategy)
	require.Equal(t, 2*time.Second, cfg.Session.Debounce.QuietInterval.D())
	require.Equal(t, 5, cfg.Session.Debounce.MinLength)
	require.Equal(t, 800*time.Millisecond, cfg.Session.Delays.Conceal.D())
}

func TestLoadFileThenEnvThenOverrides(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "ussdpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
session:
  dial_code: "*144#"
  confirm_mode: token
  delays:
    dispatch: 250ms
  debounce:
    quiet_interval: 1s
    min_length: 3
`), 0o600))

	t.Setenv("USSDPILOT_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("USSDPILOT_STRATEGY", "AGGRESSIVE")
	t.Setenv("USSDPILOT_ALLOWED_ORIGINS", "http://a, http://b")

	pin := ""
	cfg, err := Load(Overrides{AutoPIN: &pin})
	require.NoError(t, err)

	require.Equal(t, ":9100", cfg.Addr)
	require.Equal(t, "*144#", cfg.Session.DialCode)
	require.Equal(t, ConfirmToken, cfg.Session.ConfirmMode)
	require.Equal(t, surface.Aggressive, cfg.Session.Strategy)
	require.Equal(t, 250*time.Millisecond, cfg.Session.Delays.Dispatch.D())
	require.Equal(t, time.Second, cfg.Session.Delays.Extract.D())
	require.Equal(t, time.Second, cfg.Session.Debounce.QuietInterval.D())
	require.Equal(t, 3, cfg.Session.Debounce.MinLength)
	require.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins)
	require.Empty(t, cfg.Session.AutoPIN)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)

	t.Setenv("USSDPILOT_CONFIRM_MODE", "maybe")
	_, err := Load(Overrides{})
	require.Error(t, err)

	clearEnv(t)
	bad := "12a4"
	_, err = Load(Overrides{AutoPIN: &bad})
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("USSDPILOT_OPENING_BALANCE", "lots")
	_, err = Load(Overrides{})
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  delays:\n    dial: soon\n"), 0o600))
	p := path
	_, err := Load(Overrides{ConfigPath: &p})
	require.Error(t, err)
}
