package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deusflow/newspick/internal/config"
	"github.com/deusflow/newspick/internal/dedup"
	"github.com/deusflow/newspick/internal/embedding"
	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/ratelimit"
	"github.com/deusflow/newspick/internal/retry"
	"github.com/deusflow/newspick/internal/rss"
	"github.com/deusflow/newspick/internal/scraper"
	"github.com/deusflow/newspick/internal/selector"
	"github.com/deusflow/newspick/internal/telegram"
)

// Build assembles a Pipeline from cfg. The returned cleanup releases the
// embedding client and the ledger store and is never nil.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*Pipeline, func() error, error) {
	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	feeds, err := rss.LoadFeeds(cfg.FeedsConfigPath)
	if err != nil {
		return nil, cleanup, err
	}
	if len(feeds) == 0 {
		return nil, cleanup, fmt.Errorf("no feeds configured in %s", cfg.FeedsConfigPath)
	}

	store, closeStore, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeStore)

	l := ledger.Open(ctx, store, ledger.Options{
		Retention: cfg.LedgerRetention,
		Log:       log,
		Metrics:   m,
	})

	provider, closeProvider, err := embedding.Open(ctx, embeddingOptions(cfg))
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeProvider)

	budget := ratelimit.NewEmbeddingBudget(cfg.MaxEmbeddingRequests, log)
	memo := embedding.NewMemo(provider, embedding.MemoConfig{
		Retry: retry.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Backoff:     true,
		},
		Budget:  budget,
		Metrics: m,
		Log:     log,
	})

	filter := dedup.New(memo, cfg.SimilarityThreshold, log, m)
	sel := selector.New(filter, selector.NewRepresentative(memo, log), log, m)

	bot := telegram.New(cfg.TelegramToken, cfg.TelegramChatID,
		telegram.WithLogger(log),
		telegram.WithRetry(retry.RetryConfig{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Backoff: true}),
	)

	log.Info("pipeline ready",
		"feeds", len(feeds),
		"ledger_backend", cfg.LedgerBackend,
		"ledger_entries", l.Len(),
		"embedding_model", memo.ModelVersion(),
		"threshold", filter.Threshold())

	return New(Options{
		Feeds:            feeds,
		Source:           rss.NewFetcher(cfg.RequestTimeout, log),
		Summarizer:       scraper.New(cfg.RequestTimeout, cfg.ScrapeConcurrency, log),
		Picker:           sel,
		Deliverer:        bot,
		Ledger:           l,
		RunScoped:        []Resetter{memo, budget},
		Budget:           budget,
		ModelVersion:     memo.ModelVersion(),
		EmbeddingTimeout: cfg.EmbeddingTimeout,
		ResultsDir:       cfg.ResultsDir,
		Log:              log,
		Metrics:          m,
	}), cleanup, nil
}

func embeddingOptions(cfg *config.Config) embedding.Options {
	opts := embedding.Options{
		Backend: cfg.EmbeddingProvider,
		Model:   cfg.EmbeddingModel,
	}
	switch cfg.EmbeddingProvider {
	case "openai":
		opts.APIKey = cfg.OpenAIAPIKey
		opts.BaseURL = cfg.OpenAIBaseURL
	case "ollama":
		opts.BaseURL = cfg.OllamaHost
	default:
		opts.APIKey = cfg.GeminiAPIKey
	}
	return opts
}
