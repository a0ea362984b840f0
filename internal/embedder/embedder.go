// Package embedder defines the Embedder collaborator used by the embed
// stage handler (C7/§4.7.4) to batch-embed document chunks, grounded on
// the teacher's internal/embedding HTTP client.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Embedder turns text chunks into fixed-dimension vectors. Implementations
// must return one embedding per input in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// HTTPConfig configures an OpenAI-compatible embeddings endpoint, mirroring
// config.EmbeddingConfig in the teacher's codebase.
type HTTPConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string // "Authorization" sends "Bearer <key>"; any other name sends the raw key
	Dimension int
	Timeout   time.Duration
}

// HTTPEmbedder calls a configured embeddings endpoint over HTTP/JSON.
type HTTPEmbedder struct {
	cfg    HTTPConfig
	client *http.Client
}

// New builds an HTTPEmbedder from cfg, applying a 30s default timeout. The
// outbound transport is wrapped with otelhttp so every embedding call gets
// a client span and propagates trace context to the embeddings endpoint.
func New(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		cfg:    cfg,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (e *HTTPEmbedder) Model() string  { return e.cfg.Model }
func (e *HTTPEmbedder) Dimension() int { return e.cfg.Dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed batch-embeds texts via the configured endpoint, one HTTP call per
// invocation (callers batch at the chunking layer, per spec.md §4.7.4).
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedder: no inputs")
	}
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.BaseURL+e.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	switch e.cfg.APIHeader {
	case "Authorization":
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	case "":
	default:
		req.Header.Set(e.cfg.APIHeader, e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedder: endpoint error %s: %s", resp.Status, string(respBody))
	}

	var er embedResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("embedder: parse response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: got %d embeddings, want %d", len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

var _ Embedder = (*HTTPEmbedder)(nil)
