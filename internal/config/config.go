// Package config loads the gateway's configuration from the environment,
// following the viper + validator pattern used across the rest of the
// stack's services.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var weakTokens = map[string]bool{
	"changeme": true, "test": true, "password": true,
	"secret": true, "token": true, "admin": true, "": true,
}

var loopbackHosts = map[string]bool{
	"127.0.0.1": true, "localhost": true, "::1": true,
}

// Config is the gateway's full runtime configuration.
type Config struct {
	GatewayHost  string `mapstructure:"gateway_host" validate:"required"`
	GatewayPort  int    `mapstructure:"gateway_port" validate:"required"`
	GatewayToken string `mapstructure:"gateway_token"`

	WhisperModel       string `mapstructure:"whisper_model" validate:"required"`
	WhisperDevice      string `mapstructure:"whisper_device" validate:"required"`
	WhisperComputeType string `mapstructure:"whisper_compute_type" validate:"required"`

	OpenClawHost         string `mapstructure:"openclaw_host" validate:"required"`
	OpenClawPort         int    `mapstructure:"openclaw_port" validate:"required"`
	OpenClawGatewayToken string `mapstructure:"openclaw_gateway_token"`

	AgentTimeoutSeconds int     `mapstructure:"agent_timeout" validate:"required"`
	AuthTimeoutSeconds  float64 `mapstructure:"auth_timeout" validate:"required"`

	AllowedOriginsRaw string `mapstructure:"allowed_origins"`

	weakToken bool
}

// AllowedOrigins splits AllowedOriginsRaw into its comma-separated parts,
// trimming whitespace and dropping empties. Returns nil when unset, which
// the listener treats as "no origin restriction".
func (c *Config) AllowedOrigins() []string {
	if c.AllowedOriginsRaw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.AllowedOriginsRaw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return nil
	}
	return origins
}

// newViper builds a viper instance with the gateway's env-var bindings and
// defaults, following the same double-underscore key delimiter and
// AutomaticEnv pattern the rest of the stack uses for its services.
func newViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.AutomaticEnv()

	v.SetDefault("GATEWAY_HOST", "127.0.0.1")
	v.SetDefault("GATEWAY_PORT", 8765)
	v.SetDefault("GATEWAY_TOKEN", "")
	v.SetDefault("WHISPER_MODEL", "base.en")
	v.SetDefault("WHISPER_DEVICE", "cpu")
	v.SetDefault("WHISPER_COMPUTE_TYPE", "int8")
	v.SetDefault("OPENCLAW_HOST", "127.0.0.1")
	v.SetDefault("OPENCLAW_PORT", 18789)
	v.SetDefault("OPENCLAW_GATEWAY_TOKEN", "")
	v.SetDefault("AGENT_TIMEOUT", 120)
	v.SetDefault("AUTH_TIMEOUT", 5.0)
	v.SetDefault("ALLOWED_ORIGINS", "")

	_ = v.ReadInConfig()
	return v
}

// bindKeys maps struct mapstructure tags to the environment variable names
// the spec defines, since viper's AutomaticEnv alone won't uppercase-map
// "gateway_host" to "GATEWAY_HOST" without an explicit BindEnv per key.
func bindKeys(v *viper.Viper) {
	pairs := map[string]string{
		"gateway_host":           "GATEWAY_HOST",
		"gateway_port":           "GATEWAY_PORT",
		"gateway_token":          "GATEWAY_TOKEN",
		"whisper_model":          "WHISPER_MODEL",
		"whisper_device":         "WHISPER_DEVICE",
		"whisper_compute_type":   "WHISPER_COMPUTE_TYPE",
		"openclaw_host":          "OPENCLAW_HOST",
		"openclaw_port":          "OPENCLAW_PORT",
		"openclaw_gateway_token": "OPENCLAW_GATEWAY_TOKEN",
		"agent_timeout":          "AGENT_TIMEOUT",
		"auth_timeout":           "AUTH_TIMEOUT",
		"allowed_origins":        "ALLOWED_ORIGINS",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
}

// Load reads the gateway configuration from the environment (and an
// optional .env file), validates it, and enforces the same
// loopback/token-strength rules as the rest of the deployment tooling.
func Load() (*Config, error) {
	v := newViper()
	bindKeys(v)

	var cfg Config
	// GatewayToken defaults differ from validator:"required" semantics:
	// the token is optional on loopback hosts, so it is not tagged required.
	cfg.GatewayHost = v.GetString("gateway_host")
	cfg.GatewayPort = v.GetInt("gateway_port")
	cfg.GatewayToken = v.GetString("gateway_token")
	cfg.WhisperModel = v.GetString("whisper_model")
	cfg.WhisperDevice = v.GetString("whisper_device")
	cfg.WhisperComputeType = v.GetString("whisper_compute_type")
	cfg.OpenClawHost = v.GetString("openclaw_host")
	cfg.OpenClawPort = v.GetInt("openclaw_port")
	cfg.OpenClawGatewayToken = v.GetString("openclaw_gateway_token")
	cfg.AgentTimeoutSeconds = v.GetInt("agent_timeout")
	cfg.AuthTimeoutSeconds = v.GetFloat64("auth_timeout")
	cfg.AllowedOriginsRaw = v.GetString("allowed_origins")

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	if cfg.GatewayToken == "" {
		if !loopbackHosts[cfg.GatewayHost] {
			return nil, fmt.Errorf(
				"config: GATEWAY_TOKEN is required when listening on non-loopback interface (%s); set GATEWAY_TOKEN to a strong random value",
				cfg.GatewayHost,
			)
		}
	} else if weakTokens[strings.ToLower(cfg.GatewayToken)] {
		// Weak token: allowed, but callers should log a warning (see cmd/gateway).
		cfg.weakToken = true
	}

	return &cfg, nil
}

// IsWeakToken reports whether the configured token matched a known-weak
// value. Used by cmd/gateway to emit a startup warning.
func (c *Config) IsWeakToken() bool { return c.weakToken }

// RequiresAuth reports whether the gateway should run its token handshake.
func (c *Config) RequiresAuth() bool { return c.GatewayToken != "" }
