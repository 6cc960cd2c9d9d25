package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GATEWAY_HOST", "GATEWAY_PORT", "GATEWAY_TOKEN",
		"WHISPER_MODEL", "WHISPER_DEVICE", "WHISPER_COMPUTE_TYPE",
		"OPENCLAW_HOST", "OPENCLAW_PORT", "OPENCLAW_GATEWAY_TOKEN",
		"AGENT_TIMEOUT", "AUTH_TIMEOUT", "ALLOWED_ORIGINS",
	} {
		t.Setenv(k, os.Getenv(k))
		os.Unsetenv(k)
	}
}

func TestLoadDefaultsOnLoopback(t *testing.T) {
	clearGatewayEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.GatewayHost)
	assert.Equal(t, 8765, cfg.GatewayPort)
	assert.True(t, cfg.IsWeakToken() == false)
	assert.False(t, cfg.RequiresAuth())
}

func TestLoadRejectsNonLoopbackWithoutToken(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GATEWAY_HOST", "0.0.0.0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_TOKEN is required")
}

func TestLoadFlagsWeakToken(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GATEWAY_TOKEN", "changeme")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsWeakToken())
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{AllowedOriginsRaw: " https://a.example, https://b.example ,, "}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())

	empty := &Config{}
	assert.Nil(t, empty.AllowedOrigins())
}
