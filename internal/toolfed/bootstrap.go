package toolfed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RegisterDiscordBot registers the agent's bot token with the Discord tool
// server and returns the bot id used for message routing and injection.
func RegisterDiscordBot(ctx context.Context, set *ToolSet, botToken string) (string, error) {
	out, err := set.Invoke(ctx, ToolRegisterDiscord, map[string]any{"bot_token": botToken})
	if err != nil {
		return "", fmt.Errorf("register discord bot: %w", err)
	}
	botID := parseBotID(out)
	if botID == "" {
		return "", fmt.Errorf("register discord bot: no bot id in response %q", out)
	}
	return botID, nil
}

// TelegramBotID resolves the bot id for a Telegram-capable agent. The tool
// must already be credential-wrapped.
func TelegramBotID(ctx context.Context, set *ToolSet) (string, error) {
	out, err := set.Invoke(ctx, ToolTelegramBotID, map[string]any{})
	if err != nil {
		return "", fmt.Errorf("get telegram bot id: %w", err)
	}
	botID := parseBotID(out)
	if botID == "" {
		return "", fmt.Errorf("get telegram bot id: no bot id in response %q", out)
	}
	return botID, nil
}

// parseBotID accepts either a bare id or a JSON object with a bot_id field.
// Numeric ids survive as their decimal form.
func parseBotID(out string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return ""
	}
	if strings.HasPrefix(out, "{") {
		var payload struct {
			BotID json.RawMessage `json:"bot_id"`
		}
		if err := json.Unmarshal([]byte(out), &payload); err == nil && len(payload.BotID) > 0 {
			return strings.Trim(string(payload.BotID), `"`)
		}
		return ""
	}
	return out
}
