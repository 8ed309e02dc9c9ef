package providers

import (
	"github.com/nimbusworks/aviary/internal/apperr"
)

// Default base URLs for the OpenAI-compatible providers.
const (
	groqAPIBase   = "https://api.groq.com/openai/v1"
	ollamaAPIBase = "http://localhost:11434/v1"
	googleAPIBase = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// Config holds process-level provider credentials and endpoint overrides.
// Per-agent secrets take precedence over these when a factory call passes
// an explicit key.
type Config struct {
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty"`
	GroqAPIKey      string `json:"groq_api_key,omitempty"`
	GoogleAPIKey    string `json:"google_api_key,omitempty"`

	OpenAIBaseURL string `json:"openai_base_url,omitempty"`
	OllamaBaseURL string `json:"ollama_base_url,omitempty"`
}

// Factory builds providers from a name and an optional per-agent key.
type Factory struct {
	cfg Config
}

// NewFactory creates a provider factory.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// Get returns a provider for the given name. An empty apiKey falls back to
// the process-level credential for that provider. Unknown names are a
// validation error.
func (f *Factory) Get(name, apiKey string) (Provider, error) {
	switch name {
	case "openai":
		if apiKey == "" {
			apiKey = f.cfg.OpenAIAPIKey
		}
		return NewOpenAIProvider("openai", apiKey, f.cfg.OpenAIBaseURL), nil
	case "groq":
		if apiKey == "" {
			apiKey = f.cfg.GroqAPIKey
		}
		return NewOpenAIProvider("groq", apiKey, groqAPIBase), nil
	case "google":
		if apiKey == "" {
			apiKey = f.cfg.GoogleAPIKey
		}
		return NewOpenAIProvider("google", apiKey, googleAPIBase), nil
	case "ollama":
		base := f.cfg.OllamaBaseURL
		if base == "" {
			base = ollamaAPIBase
		}
		return NewOpenAIProvider("ollama", apiKey, base), nil
	case "anthropic":
		if apiKey == "" {
			apiKey = f.cfg.AnthropicAPIKey
		}
		return NewAnthropicProvider(apiKey, ""), nil
	default:
		return nil, apperr.Newf(apperr.Validation, "unknown model provider %q", name)
	}
}
