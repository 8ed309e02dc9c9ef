package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			RateLimitRPM: 60,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "aviary.db",
		},
		Auth: AuthConfig{
			Tokens: map[string]string{},
		},
		Agents: AgentsConfig{
			DefaultCharacterPath: "default.character.json5",
		},
		Tracing: TracingConfig{
			ServiceName: "aviary",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults. A .env file in the working directory, if any,
// is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

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
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("AVIARY_HOST", &c.Server.Host)
	envInt("AVIARY_PORT", &c.Server.Port)
	envInt("AVIARY_RATE_LIMIT_RPM", &c.Server.RateLimitRPM)
	envStr("AVIARY_BROADCAST_URL", &c.Server.BroadcastURL)

	envStr("AVIARY_DB_DRIVER", &c.Database.Driver)
	envStr("AVIARY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AVIARY_SQLITE_PATH", &c.Database.SQLitePath)
	if c.Database.PostgresDSN != "" && os.Getenv("AVIARY_DB_DRIVER") == "" {
		c.Database.Driver = "postgres"
	}

	envStr("AVIARY_WS_TOKEN_SECRET", &c.Auth.WSTokenSecret)
	envInt("AVIARY_WS_TOKEN_TTL_SEC", &c.Auth.WSTokenTTLSec)

	// AVIARY_API_TOKENS is a comma-separated list of token:user pairs.
	if v := os.Getenv("AVIARY_API_TOKENS"); v != "" {
		if c.Auth.Tokens == nil {
			c.Auth.Tokens = make(map[string]string)
		}
		for _, pair := range strings.Split(v, ",") {
			token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if ok && token != "" && user != "" {
				c.Auth.Tokens[token] = user
			}
		}
	}

	envStr("AVIARY_OPENAI_API_KEY", &c.Providers.OpenAIAPIKey)
	envStr("AVIARY_ANTHROPIC_API_KEY", &c.Providers.AnthropicAPIKey)
	envStr("AVIARY_GROQ_API_KEY", &c.Providers.GroqAPIKey)
	envStr("AVIARY_GOOGLE_API_KEY", &c.Providers.GoogleAPIKey)
	envStr("AVIARY_OPENAI_BASE_URL", &c.Providers.OpenAIBaseURL)
	envStr("AVIARY_OLLAMA_BASE_URL", &c.Providers.OllamaBaseURL)

	envStr("AVIARY_DISCORD_BOT_TOKEN", &c.Channels.Discord.BotToken)
	envStr("AVIARY_TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.BotToken)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Discord.BotToken != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.BotToken != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("AVIARY_DEFAULT_CHARACTER", &c.Agents.DefaultCharacterPath)

	envBool("AVIARY_TRACING_ENABLED", &c.Tracing.Enabled)
	envStr("AVIARY_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	envStr("AVIARY_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	envBool("AVIARY_TRACING_INSECURE", &c.Tracing.Insecure)
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
