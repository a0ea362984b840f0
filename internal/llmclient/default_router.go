package llmclient

import "context"

// Config configures the default provider Router.
type Config struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicMaxTok  int64

	OpenAIAPIKey  string
	OpenAIBaseURL string

	GoogleAPIKey string

	// FallbackPrefix names the backend to use for models matching no
	// known prefix: "anthropic", "openai", or "google". Empty disables
	// the fallback, causing Complete to error on unknown models.
	FallbackPrefix string
}

// NewDefaultRouter wires the provider prefix conventions used across the
// teacher's model configuration: "claude-" to Anthropic, "gpt-"/"o1-"/"o3-"
// to OpenAI, "gemini-" to Google GenAI.
func NewDefaultRouter(ctx context.Context, cfg Config) (*Router, error) {
	backends := map[string]Backend{}

	var anthropicBackend Backend
	if cfg.AnthropicAPIKey != "" {
		anthropicBackend = NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.AnthropicMaxTok)
		backends["claude-"] = anthropicBackend
	}

	var openaiBackend Backend
	if cfg.OpenAIAPIKey != "" {
		openaiBackend = NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		backends["gpt-"] = openaiBackend
		backends["o1-"] = openaiBackend
		backends["o3-"] = openaiBackend
	}

	var googleBackend Backend
	if cfg.GoogleAPIKey != "" {
		gb, err := NewGenAIBackend(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		googleBackend = gb
		backends["gemini-"] = googleBackend
	}

	var fallback Backend
	switch cfg.FallbackPrefix {
	case "anthropic":
		fallback = anthropicBackend
	case "openai":
		fallback = openaiBackend
	case "google":
		fallback = googleBackend
	}

	return NewRouter(backends, fallback), nil
}
