package lifecycle

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/agent"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/toolfed"
)

// providerKeySecret maps provider names to the per-agent secret that
// overrides the process-level credential.
var providerKeySecret = map[string]string{
	"groq":      store.SecretGroqAPIKey,
	"openai":    store.SecretOpenAIAPIKey,
	"anthropic": store.SecretAnthropicAPIKey,
	"google":    store.SecretGoogleAPIKey,
}

// materialize builds a live instance from a stored config: connect the
// agent's tool servers, wrap platform tools with credentials, resolve bot
// ids, and construct the runtime.
func (m *Manager) materialize(ctx context.Context, cfg *store.AgentConfig) (*Instance, error) {
	secrets := cfg.Settings.Secrets

	apiKey := ""
	if secretName, ok := providerKeySecret[cfg.ModelProvider]; ok {
		apiKey = secrets.Get(secretName)
	}
	provider, err := m.factory.Get(cfg.ModelProvider, apiKey)
	if err != nil {
		return nil, err
	}

	federation := toolfed.NewFederation()
	tools, err := m.loadTools(ctx, cfg)
	if err != nil {
		federation.Close()
		return nil, err
	}
	federation.ConnectAll(ctx, tools)
	set := federation.Tools()

	inst := &Instance{Config: cfg, federation: federation}

	// Credential injection happens before bot id resolution so the
	// resolution calls are already wrapped.
	toolfed.WrapTelegram(set, secrets)
	if secrets.HasTelegram() && set.Has(toolfed.ToolTelegramBotID) {
		botID, err := toolfed.TelegramBotID(ctx, set)
		if err != nil {
			slog.Warn("lifecycle.agent.telegram_bot_id_failed", "agent", cfg.Name, "error", err)
		} else {
			inst.TelegramBotID = botID
		}
	}

	if secrets.HasDiscord() && set.Has(toolfed.ToolRegisterDiscord) {
		botID, err := toolfed.RegisterDiscordBot(ctx, set, secrets.Get(store.SecretDiscordBotToken))
		if err != nil {
			slog.Warn("lifecycle.agent.discord_register_failed", "agent", cfg.Name, "error", err)
		} else {
			inst.DiscordBotID = botID
			toolfed.WrapDiscord(set, botID)
		}
	}

	inst.Runtime = agent.New(agent.Config{
		AgentName:    cfg.Name,
		Provider:     provider,
		Model:        cfg.Settings.Model,
		Temperature:  cfg.Settings.Temperature,
		MaxTokens:    cfg.Settings.MaxTokens,
		SystemPrompt: agent.ComposeSystemPrompt(cfg),
		Tools:        set,
	})

	slog.Info("lifecycle.agent.materialised",
		"agent", cfg.Name,
		"provider", cfg.ModelProvider,
		"model", cfg.Settings.Model,
		"tools", set.Len(),
		"secrets", secrets.Redacted(),
	)
	return inst, nil
}

// loadTools resolves the agent's enabled tool bindings to tool records.
func (m *Manager) loadTools(ctx context.Context, cfg *store.AgentConfig) ([]*store.Tool, error) {
	ids := make([]uuid.UUID, 0, len(cfg.Tools))
	for _, binding := range cfg.Tools {
		if binding.IsEnabled {
			ids = append(ids, binding.ToolID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return m.agents.GetToolsByIDs(ctx, ids)
}
