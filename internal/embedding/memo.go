package embedding

import (
	"context"
	"log/slog"

	"github.com/deusflow/newspick/internal/cache"
	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/ratelimit"
	"github.com/deusflow/newspick/internal/retry"
)

// MemoConfig wires the optional collaborators of a Memo.
type MemoConfig struct {
	Retry   retry.RetryConfig
	Budget  *ratelimit.EmbeddingBudget
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Memo wraps a Provider so that each distinct text is embedded once per run.
// The duplicate filter, the representative selector and ledger-entry
// recomputation all share one Memo, so a summary is never sent twice.
type Memo struct {
	inner Provider
	cache *cache.Cache[[]float32]
	cfg   MemoConfig
	log   *slog.Logger
}

var _ Provider = (*Memo)(nil)

func NewMemo(inner Provider, cfg MemoConfig) *Memo {
	return &Memo{
		inner: inner,
		cache: cache.New[[]float32](),
		cfg:   cfg,
		log:   logger.OrNop(cfg.Log),
	}
}

func (m *Memo) ModelVersion() string {
	return m.inner.ModelVersion()
}

// Reset forgets every memoised vector. Called at the start of each run.
func (m *Memo) Reset() {
	m.cache.Clear()
}

// Len reports how many distinct texts have been embedded.
func (m *Memo) Len() int {
	return m.cache.Len()
}

func (m *Memo) Encode(ctx context.Context, text string) ([]float32, error) {
	key := cache.GenerateKey(m.inner.ModelVersion(), text)
	if v, ok := m.cache.Get(key); ok {
		if m.cfg.Budget != nil {
			m.cfg.Budget.RecordCacheHit()
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.EmbeddingCacheHits.Inc()
		}
		return v, nil
	}

	if m.cfg.Budget != nil {
		if err := m.cfg.Budget.Use(); err != nil {
			return nil, err
		}
	}

	var vec []float32
	err := retry.WithRetry(ctx, m.cfg.Retry, func() error {
		v, err := m.inner.Encode(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			m.log.Debug("embedding attempt failed", "model", m.inner.ModelVersion(), "error", err)
			return err
		}
		if len(v) == 0 {
			return retry.Permanent(ErrEmptyEmbedding)
		}
		vec = v
		return nil
	})
	if err != nil {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.EmbeddingFailures.Inc()
		}
		return nil, err
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.EmbeddingsComputed.Inc()
	}
	m.cache.Set(key, vec)
	return vec, nil
}
