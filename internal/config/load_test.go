package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoadJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// comments are allowed
		server: { host: "127.0.0.1", port: 9000 },
		auth: { tokens: { "tok-a": "alice" } },
		database: { driver: "postgres", postgres_dsn: "postgres://localhost/aviary" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Auth.Tokens["tok-a"] != "alice" {
		t.Errorf("tokens = %v", cfg.Auth.Tokens)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AVIARY_PORT", "7777")
	t.Setenv("AVIARY_GROQ_API_KEY", "gsk-test")
	t.Setenv("AVIARY_API_TOKENS", "tok-b:bob, tok-c:carol")
	t.Setenv("AVIARY_TELEGRAM_BOT_TOKEN", "tg-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Providers.GroqAPIKey != "gsk-test" {
		t.Errorf("GroqAPIKey = %q", cfg.Providers.GroqAPIKey)
	}
	if cfg.Auth.Tokens["tok-b"] != "bob" || cfg.Auth.Tokens["tok-c"] != "carol" {
		t.Errorf("tokens = %v", cfg.Auth.Tokens)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram channel not auto-enabled by env token")
	}
}

func TestPostgresDSNSelectsDriver(t *testing.T) {
	t.Setenv("AVIARY_POSTGRES_DSN", "postgres://localhost/aviary")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Database.Driver)
	}
}
