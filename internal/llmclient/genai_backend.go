package llmclient

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GenAIBackend serves "gemini-"-prefixed models via google.golang.org/genai.
type GenAIBackend struct {
	client *genai.Client
}

// NewGenAIBackend builds a Backend over the given API key.
func NewGenAIBackend(ctx context.Context, apiKey string) (*GenAIBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: strings.TrimSpace(apiKey),
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	return &GenAIBackend{client: client}, nil
}

func (b *GenAIBackend) Complete(ctx context.Context, prompt, model string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{{Text: prompt}}, genai.RoleUser)}
	resp, err := b.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("genai backend: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("genai backend: empty response for model %q", model)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

var _ Backend = (*GenAIBackend)(nil)
