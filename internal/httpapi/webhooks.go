package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nimbusworks/aviary/internal/agent"
	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/lifecycle"
	"github.com/nimbusworks/aviary/internal/providers"
	"github.com/nimbusworks/aviary/internal/toolfed"
)

// fallbackReply is sent when a webhook turn produces no usable response.
const fallbackReply = "I'm sorry, I couldn't process that."

// WebhooksHandler receives inbound platform messages and routes them to the
// owning agent. Webhook turns are stateless; nothing is persisted.
type WebhooksHandler struct {
	manager PlatformRouter
}

// NewWebhooksHandler creates the webhooks handler.
func NewWebhooksHandler(manager PlatformRouter) *WebhooksHandler {
	return &WebhooksHandler{manager: manager}
}

// RegisterRoutes registers the webhook routes on the mux. Webhooks carry no
// bearer token; the bot id match is the trust boundary.
func (h *WebhooksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /telegram/webhook", h.handleTelegram)
	mux.HandleFunc("POST /discord/receive_message", h.handleDiscord)
}

func writeIgnored(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "detail": detail})
}

// handleTelegram accepts both the raw bot API update shape and the
// pre-flattened shape forwarded by the tool server.
func (h *WebhooksHandler) handleTelegram(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChatID  json.Number `json:"chat_id"`
		Content string      `json:"content"`
		BotID   json.Number `json:"bot_id"`
		Message *struct {
			Chat struct {
				ID json.Number `json:"id"`
			} `json:"chat"`
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}

	chatID := payload.ChatID.String()
	content := payload.Content
	if payload.Message != nil {
		chatID = payload.Message.Chat.ID.String()
		content = payload.Message.Text
	}
	botID := payload.BotID.String()

	if chatID == "" || content == "" || botID == "" {
		writeIgnored(w, "Missing essential data.")
		return
	}

	inst, err := h.manager.RoutePlatform(lifecycle.PlatformTelegram, botID)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			writeIgnored(w, fmt.Sprintf("No agent for bot ID %s.", botID))
			return
		}
		writeError(w, err)
		return
	}

	reply := h.runWebhookTurn(r, inst, content)
	if _, err := inst.Runtime.Tools().Invoke(r.Context(), toolfed.ToolSendTelegram, map[string]any{
		"chat_id": chatID,
		"message": reply,
	}); err != nil {
		slog.Error("webhook.telegram.send_failed", "agent", inst.Config.Name, "chat_id", chatID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhooksHandler) handleDiscord(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content    string      `json:"content"`
		ChannelID  json.Number `json:"channel_id"`
		AuthorID   json.Number `json:"author_id"`
		AuthorName string      `json:"author_name"`
		MessageID  json.Number `json:"message_id"`
		Timestamp  string      `json:"timestamp"`
		BotID      json.Number `json:"bot_id"`
		GuildID    json.Number `json:"guild_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}

	missing := ""
	switch {
	case payload.Content == "":
		missing = "content"
	case payload.ChannelID.String() == "":
		missing = "channel_id"
	case payload.AuthorID.String() == "":
		missing = "author_id"
	case payload.AuthorName == "":
		missing = "author_name"
	case payload.MessageID.String() == "":
		missing = "message_id"
	case payload.Timestamp == "":
		missing = "timestamp"
	case payload.BotID.String() == "":
		missing = "bot_id"
	}
	if missing != "" {
		writeError(w, apperr.Newf(apperr.Validation, "missing required field %s", missing))
		return
	}

	inst, err := h.manager.RoutePlatform(lifecycle.PlatformDiscord, payload.BotID.String())
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			writeIgnored(w, fmt.Sprintf("No agent for bot ID %s.", payload.BotID.String()))
			return
		}
		writeError(w, err)
		return
	}

	content := fmt.Sprintf("%s: %s", payload.AuthorName, payload.Content)
	reply := h.runWebhookTurn(r, inst, content)
	if _, err := inst.Runtime.Tools().Invoke(r.Context(), toolfed.ToolSendDiscord, map[string]any{
		"channel_id": payload.ChannelID.String(),
		"message":    reply,
	}); err != nil {
		slog.Error("webhook.discord.send_failed", "agent", inst.Config.Name, "channel_id", payload.ChannelID.String(), "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runWebhookTurn runs one stateless turn against the agent. The turn never
// fails the webhook; errors collapse to the fallback reply.
func (h *WebhooksHandler) runWebhookTurn(r *http.Request, inst *lifecycle.Instance, content string) string {
	result, err := inst.Runtime.Run(r.Context(), agent.TurnRequest{
		History: []providers.Message{{Role: "user", Content: content}},
	})
	if err != nil {
		slog.Error("webhook.turn_failed", "agent", inst.Config.Name, "error", err)
		return fallbackReply
	}
	if result.Content == "" || result.ModelFailed {
		return fallbackReply
	}
	return result.Content
}
