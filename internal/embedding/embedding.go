// Package embedding maps text to fixed-length vectors through an external model.
//
// A Provider is pinned to one model version for its lifetime. Vectors produced
// under different model versions are not comparable, so callers persist the
// version next to any stored vector.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyEmbedding is returned when a backend answers without a vector.
var ErrEmptyEmbedding = errors.New("no embedding returned")

// Provider turns text into an embedding.
type Provider interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	// ModelVersion identifies the model, e.g. "gemini/text-embedding-004".
	ModelVersion() string
}

// Options selects and configures a backend.
type Options struct {
	Backend string // gemini | openai | ollama
	Model   string
	APIKey  string
	BaseURL string
}

// Open creates the backend named in opts. The returned close function
// releases backend resources and is never nil.
func Open(ctx context.Context, opts Options) (Provider, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(opts.Backend) {
	case "gemini", "":
		p, err := NewGeminiProvider(ctx, opts.APIKey, opts.Model)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	case "openai":
		p, err := NewOpenAIProvider(opts.APIKey, opts.BaseURL, opts.Model)
		if err != nil {
			return nil, noop, err
		}
		return p, noop, nil
	case "ollama":
		p, err := NewOllamaProvider(opts.BaseURL, opts.Model)
		if err != nil {
			return nil, noop, err
		}
		return p, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown embedding backend %q", opts.Backend)
	}
}
