package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. Secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}

	// Secrets (env only, never persisted)
	envStr("TANYA_POSTGRES_DSN", &c.Sessions.PostgresDSN)
	envStr("TANYA_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("TANYA_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("TANYA_RETRIEVAL_API_KEY", &c.Retrieval.APIKey)
	envStr("TANYA_TWILIO_ACCOUNT_SID", &c.Channels.WhatsApp.AccountSID)
	envStr("TANYA_TWILIO_AUTH_TOKEN", &c.Channels.WhatsApp.AuthToken)
	envStr("TANYA_DISCORD_BOT_TOKEN", &c.Channels.Discord.BotToken)
	envStr("TANYA_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	// Non-secret overrides
	envStr("TANYA_PROVIDER", &c.Providers.Default)
	envStr("TANYA_RETRIEVAL_ENDPOINT", &c.Retrieval.Endpoint)
	envStr("TANYA_DISCORD_PUBLIC_KEY", &c.Channels.Discord.PublicKey)
	envStr("TANYA_DISCORD_APPLICATION_ID", &c.Channels.Discord.ApplicationID)
	envStr("TANYA_SESSIONS_BACKEND", &c.Sessions.Backend)
	envFloat("TANYA_SCORE_THRESHOLD", &c.Retrieval.ScoreThreshold)
	envFloat("TANYA_CONFIDENCE_THRESHOLD", &c.Guardrail.ConfidenceThreshold)
	envInt("TANYA_GATEWAY_PORT", &c.Gateway.Port)
	envInt("TANYA_SESSION_TTL_HOURS", &c.Sessions.TTLHours)
	envBool("TANYA_WHATSAPP_ENABLED", &c.Channels.WhatsApp.Enabled)
	envBool("TANYA_DISCORD_ENABLED", &c.Channels.Discord.Enabled)
	envBool("TANYA_TELEGRAM_ENABLED", &c.Channels.Telegram.Enabled)
	envBool("TANYA_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
}

// ExpandHome replaces a leading ~ with the current user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	return filepath.Join(usr.HomeDir, strings.TrimPrefix(path, "~"))
}
