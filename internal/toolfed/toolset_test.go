package toolfed

import (
	"context"
	"testing"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/store"
)

// fakeTool records the arguments of its last invocation.
type fakeTool struct {
	name     string
	schema   map[string]any
	lastArgs map[string]any
	out      string
}

func (f *fakeTool) Name() string              { return f.name }
func (f *fakeTool) Description() string       { return "fake " + f.name }
func (f *fakeTool) ArgSchema() map[string]any { return f.schema }
func (f *fakeTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	f.lastArgs = args
	return f.out, nil
}

func TestToolSetInvokeUnknown(t *testing.T) {
	set := NewToolSet()
	_, err := set.Invoke(context.Background(), "nope", nil)
	if !apperr.IsKind(err, apperr.ToolNotFound) {
		t.Fatalf("expected ToolNotFound, got %v", err)
	}
}

func TestToolSetDefinitionsSorted(t *testing.T) {
	set := NewToolSet()
	set.Register(&fakeTool{name: "zebra"})
	set.Register(&fakeTool{name: "alpha"})

	defs := set.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zebra" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestWrapTelegramInjectsCredentials(t *testing.T) {
	secrets := store.Secrets{
		store.SecretTelegramAPIID:    "12345",
		store.SecretTelegramAPIHash:  "hash",
		store.SecretTelegramBotToken: "token",
	}

	send := &fakeTool{
		name: ToolSendTelegram,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"chat_id":            map[string]any{"type": "string"},
				"message":            map[string]any{"type": "string"},
				"telegram_api_id":    map[string]any{"type": "string"},
				"telegram_api_hash":  map[string]any{"type": "string"},
				"telegram_bot_token": map[string]any{"type": "string"},
			},
			"required": []any{"chat_id", "message", "telegram_bot_token"},
		},
		out: "sent",
	}
	set := NewToolSet()
	set.Register(send)
	WrapTelegram(set, secrets)

	out, err := set.Invoke(context.Background(), ToolSendTelegram, map[string]any{
		"chat_id":            "42",
		"message":            "hi",
		"telegram_bot_token": "model-supplied",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "sent" {
		t.Fatalf("unexpected output %q", out)
	}
	if got := send.lastArgs["telegram_bot_token"]; got != "token" {
		t.Errorf("injected token not applied, got %v", got)
	}
	if got := send.lastArgs["telegram_api_id"]; got != "12345" {
		t.Errorf("injected api id not applied, got %v", got)
	}
	if got := send.lastArgs["chat_id"]; got != "42" {
		t.Errorf("caller arg lost, got %v", got)
	}
}

func TestWrapTelegramStripsSchema(t *testing.T) {
	secrets := store.Secrets{
		store.SecretTelegramAPIID:    "1",
		store.SecretTelegramAPIHash:  "h",
		store.SecretTelegramBotToken: "t",
	}
	send := &fakeTool{
		name: ToolSendTelegram,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"chat_id":            map[string]any{"type": "string"},
				"telegram_api_id":    map[string]any{"type": "string"},
				"telegram_api_hash":  map[string]any{"type": "string"},
				"telegram_bot_token": map[string]any{"type": "string"},
			},
			"required": []any{"chat_id", "telegram_bot_token"},
		},
	}
	set := NewToolSet()
	set.Register(send)
	WrapTelegram(set, secrets)

	wrapped, _ := set.Get(ToolSendTelegram)
	schema := wrapped.ArgSchema()

	props := schema["properties"].(map[string]any)
	for _, hidden := range []string{"telegram_api_id", "telegram_api_hash", "telegram_bot_token"} {
		if _, ok := props[hidden]; ok {
			t.Errorf("property %s should be stripped", hidden)
		}
	}
	if _, ok := props["chat_id"]; !ok {
		t.Error("chat_id should remain")
	}

	req := schema["required"].([]any)
	if len(req) != 1 || req[0] != "chat_id" {
		t.Errorf("unexpected required list: %v", req)
	}

	// The inner tool's schema must be untouched.
	innerProps := send.schema["properties"].(map[string]any)
	if _, ok := innerProps["telegram_bot_token"]; !ok {
		t.Error("inner schema was mutated")
	}
}

func TestWrapTelegramRequiresFullTriple(t *testing.T) {
	send := &fakeTool{name: ToolSendTelegram, out: "sent"}
	set := NewToolSet()
	set.Register(send)

	WrapTelegram(set, store.Secrets{store.SecretTelegramBotToken: "t"})

	got, _ := set.Get(ToolSendTelegram)
	if got != Tool(send) {
		t.Error("tool should not be wrapped without the full credential triple")
	}
}

func TestWrapDiscordInjectsBotID(t *testing.T) {
	send := &fakeTool{name: ToolSendDiscord, out: "ok"}
	set := NewToolSet()
	set.Register(send)
	WrapDiscord(set, "bot-7")

	if _, err := set.Invoke(context.Background(), ToolSendDiscord, map[string]any{"channel_id": "c1"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := send.lastArgs["bot_id"]; got != "bot-7" {
		t.Errorf("bot_id not injected, got %v", got)
	}
}

func TestParseBotID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare id", "123456\n", "123456"},
		{"json string id", `{"bot_id": "bot-1"}`, "bot-1"},
		{"json numeric id", `{"bot_id": 987}`, "987"},
		{"empty", "  ", ""},
		{"json without id", `{"status": "ok"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseBotID(tt.in); got != tt.want {
				t.Errorf("parseBotID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
