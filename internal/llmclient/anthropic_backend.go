package llmclient

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend serves "claude-"-prefixed models via anthropic-sdk-go,
// used for LLM profiling calls (spec.md §4.8) and experience steps.
type AnthropicBackend struct {
	sdk       anthropic.Client
	maxTokens int64
}

// NewAnthropicBackend builds a Backend over the given API key/base URL.
func NewAnthropicBackend(apiKey, baseURL string, maxTokens int64) *AnthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicBackend{sdk: anthropic.NewClient(opts...), maxTokens: maxTokens}
}

func (b *AnthropicBackend) Complete(ctx context.Context, prompt, model string) (string, error) {
	resp, err := b.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: b.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic backend: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}

var _ Backend = (*AnthropicBackend)(nil)
