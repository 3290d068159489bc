package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

type OllamaProvider struct {
	client *api.Client
	model  string
}

func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = defaultOllamaHost
	}
	if model == "" {
		model = defaultOllamaModel
	}

	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", baseURL, err)
	}

	return &OllamaProvider{
		client: api.NewClient(uri, &http.Client{Timeout: 60 * time.Second}),
		model:  model,
	}, nil
}

func (p *OllamaProvider) ModelVersion() string {
	return "ollama/" + p.model
}

func (p *OllamaProvider) Encode(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model: p.model,
		Input: prepareText(text),
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Embeddings[0], nil
}
