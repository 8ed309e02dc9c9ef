package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nimbusworks/aviary/internal/store"
)

func TestComposeSystemPromptOrder(t *testing.T) {
	cfg := &store.AgentConfig{
		Name:            "aria",
		System:          "A witty market analyst.",
		Bio:             []string{"Ten years on a trading desk."},
		Knowledge:       []string{"Knows options greeks."},
		Lore:            []string{"Once predicted a flash crash."},
		Style:           json.RawMessage(`{"chat": ["dry humour"]}`),
		MessageExamples: json.RawMessage(`[[{"user": "hi"}]]`),
	}

	prompt := ComposeSystemPrompt(cfg)

	if !strings.HasPrefix(prompt, baseSystemPrompt) {
		t.Fatal("prompt must start with the base instructions")
	}

	sections := []string{
		"Your persona: A witty market analyst.",
		"Your bio: Ten years on a trading desk.",
		"Knowledge: Knows options greeks.",
		"Lore: Once predicted a flash crash.",
		"Style: ",
		"Message Examples:\n",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		if idx < 0 {
			t.Fatalf("section %q missing from prompt", s)
		}
		if idx < last {
			t.Errorf("section %q out of order", s)
		}
		last = idx
	}
}

func TestComposeSystemPromptSkipsEmptySections(t *testing.T) {
	prompt := ComposeSystemPrompt(&store.AgentConfig{Name: "bare"})

	if prompt != baseSystemPrompt {
		t.Errorf("bare config should produce only the base prompt")
	}
	for _, s := range []string{"Your persona:", "Your bio:", "Knowledge:", "Lore:", "Style:", "Message Examples:"} {
		if strings.Contains(prompt, s) {
			t.Errorf("unexpected section %q", s)
		}
	}
}

func TestComposeSystemPromptNullJSON(t *testing.T) {
	prompt := ComposeSystemPrompt(&store.AgentConfig{
		Style:           json.RawMessage(`null`),
		MessageExamples: json.RawMessage(``),
	})
	if strings.Contains(prompt, "Style:") || strings.Contains(prompt, "Message Examples:") {
		t.Error("null sections should be skipped")
	}
}
