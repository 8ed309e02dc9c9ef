// Package config loads the platform configuration from a JSON5 file with
// environment overrides.
package config

import "time"

// Config is the root platform configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Agents    AgentsConfig    `json:"agents"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"`

	// BroadcastURL points event publication at another process's
	// /internal/broadcast endpoint. Empty keeps events in-process.
	BroadcastURL string `json:"broadcast_url"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver      string `json:"driver"` // "postgres" or "sqlite"
	PostgresDSN string `json:"postgres_dsn"`
	SQLitePath  string `json:"sqlite_path"`
}

// AuthConfig holds API tokens and the WebSocket token signing secret.
type AuthConfig struct {
	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string `json:"tokens"`

	WSTokenSecret string `json:"ws_token_secret"`
	WSTokenTTLSec int    `json:"ws_token_ttl_sec"`
}

// WSTokenTTL returns the configured token lifetime, zero for the default.
func (a AuthConfig) WSTokenTTL() time.Duration {
	return time.Duration(a.WSTokenTTLSec) * time.Second
}

// ProvidersConfig holds process-level model provider credentials. Per-agent
// secrets override these.
type ProvidersConfig struct {
	OpenAIAPIKey    string `json:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key"`
	GroqAPIKey      string `json:"groq_api_key"`
	GoogleAPIKey    string `json:"google_api_key"`

	OpenAIBaseURL string `json:"openai_base_url"`
	OllamaBaseURL string `json:"ollama_base_url"`
}

// ChannelsConfig enables the native gateway channels.
type ChannelsConfig struct {
	Discord  DiscordChannelConfig  `json:"discord"`
	Telegram TelegramChannelConfig `json:"telegram"`
}

// DiscordChannelConfig configures the native Discord gateway connection.
type DiscordChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

// TelegramChannelConfig configures native Telegram long polling.
type TelegramChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

// AgentsConfig holds agent bootstrap settings.
type AgentsConfig struct {
	// DefaultCharacterPath is the character file seeded when the store
	// holds no agents. Empty disables seeding.
	DefaultCharacterPath string `json:"default_character_path"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}
