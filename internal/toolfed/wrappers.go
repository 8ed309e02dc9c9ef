package toolfed

import (
	"context"

	"github.com/nimbusworks/aviary/internal/store"
)

// Platform tool names subject to credential injection.
const (
	ToolSendTelegram     = "send_message_telegram"
	ToolTelegramHistory  = "get_chat_history"
	ToolTelegramBotID    = "get_bot_id_telegram"
	ToolSendDiscord      = "send_message"
	ToolDiscordMessages  = "get_channel_messages"
	ToolDiscordBotID     = "get_bot_id"
	ToolRegisterDiscord  = "register_discord_bot"
)

var telegramWrapped = []string{ToolSendTelegram, ToolTelegramHistory, ToolTelegramBotID}
var discordWrapped = []string{ToolSendDiscord, ToolDiscordMessages, ToolDiscordBotID}

// injectedTool wraps a tool with fixed arguments. The injected parameters are
// stripped from the advertised schema so the model never sees or supplies
// credentials; injected values override anything the model passes anyway.
type injectedTool struct {
	inner    Tool
	injected map[string]any
}

func (t *injectedTool) Name() string        { return t.inner.Name() }
func (t *injectedTool) Description() string { return t.inner.Description() }

func (t *injectedTool) ArgSchema() map[string]any {
	return stripProperties(t.inner.ArgSchema(), t.injected)
}

func (t *injectedTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	merged := make(map[string]any, len(args)+len(t.injected))
	for k, v := range args {
		merged[k] = v
	}
	for k, v := range t.injected {
		merged[k] = v
	}
	return t.inner.Invoke(ctx, merged)
}

// stripProperties returns a copy of schema with the injected property names
// removed from "properties" and "required".
func stripProperties(schema map[string]any, injected map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	if props, ok := out["properties"].(map[string]any); ok {
		kept := make(map[string]any, len(props))
		for k, v := range props {
			if _, drop := injected[k]; !drop {
				kept[k] = v
			}
		}
		out["properties"] = kept
	}
	if req, ok := out["required"].([]any); ok {
		var kept []any
		for _, v := range req {
			name, _ := v.(string)
			if _, drop := injected[name]; !drop {
				kept = append(kept, v)
			}
		}
		out["required"] = kept
	}
	return out
}

// WrapTelegram replaces the Telegram platform tools with credential-injecting
// variants. No-op when the agent lacks the full credential triple.
func WrapTelegram(set *ToolSet, secrets store.Secrets) {
	if !secrets.HasTelegram() {
		return
	}
	injected := map[string]any{
		"telegram_api_id":    secrets.Get(store.SecretTelegramAPIID),
		"telegram_api_hash":  secrets.Get(store.SecretTelegramAPIHash),
		"telegram_bot_token": secrets.Get(store.SecretTelegramBotToken),
	}
	wrap(set, telegramWrapped, injected)
}

// WrapDiscord replaces the Discord platform tools with variants that carry
// the registered bot id.
func WrapDiscord(set *ToolSet, botID string) {
	if botID == "" {
		return
	}
	wrap(set, discordWrapped, map[string]any{"bot_id": botID})
}

func wrap(set *ToolSet, names []string, injected map[string]any) {
	for _, name := range names {
		inner, ok := set.Get(name)
		if !ok {
			continue
		}
		set.Register(&injectedTool{inner: inner, injected: injected})
	}
}
