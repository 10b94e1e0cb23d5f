package config

// Config is the root configuration for the tanya gateway. It is loaded once at
// startup and handed to components at construction; nothing reads it ad hoc.
type Config struct {
	Gateway     GatewayConfig     `json:"gateway"`
	Sessions    SessionsConfig    `json:"sessions"`
	Retrieval   RetrievalConfig   `json:"retrieval"`
	Guardrail   GuardrailConfig   `json:"guardrail"`
	Providers   ProvidersConfig   `json:"providers"`
	Channels    ChannelsConfig    `json:"channels"`
	Templates   TemplatesConfig   `json:"templates"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

// GatewayConfig configures the inbound HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"` // per-sender; 0 disables
}

// SessionsConfig configures conversation state persistence.
// PostgresDSN is never read from the config file; it comes from the
// TANYA_POSTGRES_DSN environment variable only.
type SessionsConfig struct {
	Backend       string `json:"backend"` // "memory", "sqlite" (default), "postgres"
	SQLitePath    string `json:"sqlite_path,omitempty"`
	PostgresDSN   string `json:"-"`
	TTLHours      int    `json:"ttl_hours"`
	HistoryLimit  int    `json:"history_limit"`  // max turns kept per session
	CommitRetries int    `json:"commit_retries"` // reload+rerun attempts on version conflict
}

// RetrievalConfig configures the knowledge-base search service.
// A missing endpoint means no knowledge source is configured and retrieval is a no-op.
type RetrievalConfig struct {
	Endpoint       string  `json:"endpoint,omitempty"`
	APIKey         string  `json:"-"` // env TANYA_RETRIEVAL_API_KEY only
	TopK           int     `json:"top_k"`
	ScoreThreshold float64 `json:"score_threshold"`
	TimeoutSecs    int     `json:"timeout_seconds"`
}

// Enabled reports whether a knowledge source is configured.
func (r RetrievalConfig) Enabled() bool { return r.Endpoint != "" }

// GuardrailConfig holds the confidence policy thresholds.
type GuardrailConfig struct {
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	Denylist            []string `json:"denylist,omitempty"`
}

// ProvidersConfig selects and configures the inference service.
type ProvidersConfig struct {
	Default       string         `json:"default"` // "anthropic" or "openai"
	Anthropic     ProviderConfig `json:"anthropic,omitempty"`
	OpenAI        ProviderConfig `json:"openai,omitempty"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   float64        `json:"temperature"`
	SafetyProfile string         `json:"safety_profile,omitempty"` // opaque guardrail profile id forwarded to the provider
	TimeoutSecs   int            `json:"timeout_seconds"`
}

// ProviderConfig holds per-provider settings. API keys come from env only.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// ChannelsConfig enables and configures inbound channels.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Webchat  WebchatConfig  `json:"webchat,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// WhatsAppConfig configures the Twilio WhatsApp webhook channel.
// AccountSID/AuthToken come from env (TANYA_TWILIO_ACCOUNT_SID / TANYA_TWILIO_AUTH_TOKEN).
type WhatsAppConfig struct {
	Enabled           bool   `json:"enabled"`
	AccountSID        string `json:"-"`
	AuthToken         string `json:"-"`
	From              string `json:"from,omitempty"` // "whatsapp:+<number>"
	ValidateSignature bool   `json:"validate_signature"`
}

// DiscordConfig configures the Discord Interactions channel.
// BotToken comes from env TANYA_DISCORD_BOT_TOKEN.
type DiscordConfig struct {
	Enabled           bool   `json:"enabled"`
	ApplicationID     string `json:"application_id,omitempty"`
	PublicKey         string `json:"public_key,omitempty"` // hex ed25519 key for interaction verification
	BotToken          string `json:"-"`
	ValidateSignature bool   `json:"validate_signature"`
}

// WebchatConfig configures the JSON chat endpoint.
type WebchatConfig struct {
	Enabled bool `json:"enabled"`
}

// TelegramConfig configures the Telegram long-polling channel.
// Token comes from env TANYA_TELEGRAM_TOKEN.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// TemplatesConfig holds the fixed reply templates. These are channel-agnostic
// and never model-generated.
type TemplatesConfig struct {
	SafeFallback string `json:"safe_fallback,omitempty"`
	Denylist     string `json:"denylist,omitempty"`
	OrderStatus  string `json:"order_status,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Protocol string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	Endpoint string `json:"endpoint,omitempty"`
}

// MaintenanceConfig configures the optional expired-session sweeper.
// Empty schedule disables it; expiry is already enforced lazily on load.
type MaintenanceConfig struct {
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron expression
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18890,
			RateLimitRPM: 30,
		},
		Sessions: SessionsConfig{
			Backend:       "sqlite",
			SQLitePath:    "~/.tanya/sessions.db",
			TTLHours:      72,
			HistoryLimit:  20,
			CommitRetries: 3,
		},
		Retrieval: RetrievalConfig{
			TopK:           4,
			ScoreThreshold: 0.5,
			TimeoutSecs:    3,
		},
		Guardrail: GuardrailConfig{
			ConfidenceThreshold: 0.5,
			Denylist:            []string{"nomor kartu", "password", "otp", "pin"},
		},
		Providers: ProvidersConfig{
			Default:     "anthropic",
			Anthropic:   ProviderConfig{Model: "claude-sonnet-4-5-20250929"},
			OpenAI:      ProviderConfig{Model: "gpt-4o-mini"},
			MaxTokens:   400,
			Temperature: 0.2,
			TimeoutSecs: 20,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{ValidateSignature: true},
			Discord:  DiscordConfig{ValidateSignature: true},
			Webchat:  WebchatConfig{Enabled: true},
		},
		Telemetry: TelemetryConfig{Protocol: "http"},
	}
}
