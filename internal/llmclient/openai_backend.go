package llmclient

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIBackend serves "gpt-"/"o1-"/"o3-"-prefixed models via openai-go/v2,
// also usable against any OpenAI-compatible self-hosted endpoint.
type OpenAIBackend struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIBackend builds a Backend over the given API key/base URL.
// baseURL == "" uses the SDK's default (https://api.openai.com/v1).
func NewOpenAIBackend(apiKey, baseURL string) *OpenAIBackend {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &OpenAIBackend{sdk: sdk.NewClient(opts...)}
}

func (b *OpenAIBackend) Complete(ctx context.Context, prompt, model string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
	}
	comp, err := b.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai backend: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("openai backend: empty response for model %q", model)
	}
	return comp.Choices[0].Message.Content, nil
}

var _ Backend = (*OpenAIBackend)(nil)
