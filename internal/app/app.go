// Package app wires feed collection, selection and delivery into one batch run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/news"
	"github.com/deusflow/newspick/internal/ratelimit"
)

// FeedSource collects the raw batch.
type FeedSource interface {
	FetchAll(ctx context.Context, urls []string) ([]*news.Item, error)
}

// Summarizer fills in Item.Summary.
type Summarizer interface {
	SummarizeAll(ctx context.Context, items []*news.Item) error
}

// Picker chooses at most one item to deliver. It must not write to the ledger.
type Picker interface {
	Pick(ctx context.Context, candidates []*news.Item, l *ledger.Ledger, now time.Time) (*news.Item, error)
}

// Deliverer sends the recommendation; nil means it was accepted.
type Deliverer interface {
	SendRecommendation(ctx context.Context, item *news.Item) error
}

// Resetter is state that lives for exactly one run, such as the embedding
// memo and its request budget.
type Resetter interface {
	Reset()
}

type Options struct {
	Feeds      []string
	Source     FeedSource
	Summarizer Summarizer
	Picker     Picker
	Deliverer  Deliverer
	Ledger     *ledger.Ledger
	RunScoped  []Resetter
	// Budget is reported by EmbeddingStats; it is reset with RunScoped.
	Budget *ratelimit.EmbeddingBudget

	// ModelVersion tags the embedding stored with a delivered item.
	ModelVersion string
	// EmbeddingTimeout bounds duplicate filtering plus selection.
	EmbeddingTimeout time.Duration
	// ResultsDir receives a JSON copy of every collected batch; empty disables it.
	ResultsDir string

	Log     *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Pipeline struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

func New(opts Options) *Pipeline {
	if opts.EmbeddingTimeout <= 0 {
		opts.EmbeddingTimeout = 2 * time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{opts: opts, log: logger.OrNop(opts.Log), now: now}
}

// EmbeddingStats returns the embedding budget of the current run, or nil
// when the pipeline has no budget.
func (p *Pipeline) EmbeddingStats() map[string]interface{} {
	if p.opts.Budget == nil {
		return nil
	}
	return p.opts.Budget.GetStats()
}

// Result describes what one run did.
type Result struct {
	Collected int
	Eligible  int
	Delivered *news.Item
}

// RunOnce collects one batch, picks a representative item, delivers it and
// records it in the ledger. The ledger's lock is held for the whole run so
// that concurrent runs cannot lose each other's records. A batch that cannot
// be deduplicated in time is skipped with an error; nothing is recorded
// unless delivery succeeded.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	start := p.now()
	res, err := p.run(ctx)
	p.opts.Metrics.RecordProcessingTime(p.now().Sub(start))

	if err != nil {
		p.opts.Metrics.SetError(err.Error())
		return res, err
	}
	p.opts.Metrics.SetLastRun()
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (Result, error) {
	var res Result
	l := p.opts.Ledger

	unlock, err := l.Lock(ctx)
	if err != nil {
		return res, fmt.Errorf("lock ledger: %w", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			p.log.Warn("failed to release ledger lock", "error", err)
		}
	}()
	l.Reload(ctx)
	for _, r := range p.opts.RunScoped {
		r.Reset()
	}

	items, err := p.opts.Source.FetchAll(ctx, p.opts.Feeds)
	if err != nil {
		return res, fmt.Errorf("fetch feeds: %w", err)
	}
	res.Collected = len(items)

	if err := p.opts.Summarizer.SummarizeAll(ctx, items); err != nil {
		return res, fmt.Errorf("summarize articles: %w", err)
	}
	p.archive(items)

	eligible := news.Eligible(items)
	res.Eligible = len(eligible)
	p.log.Info("batch collected", "items", len(items), "eligible", len(eligible))
	if len(eligible) == 0 {
		p.log.Info("no recommendation this cycle, nothing eligible")
		return res, nil
	}

	pickCtx, cancel := context.WithTimeout(ctx, p.opts.EmbeddingTimeout)
	chosen, err := p.opts.Picker.Pick(pickCtx, eligible, l, p.now())
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			p.log.Warn("embedding timeout, skipping this batch", "timeout", p.opts.EmbeddingTimeout)
		}
		return res, fmt.Errorf("select representative: %w", err)
	}
	if chosen == nil {
		return res, nil
	}

	if err := p.opts.Deliverer.SendRecommendation(ctx, chosen); err != nil {
		return res, fmt.Errorf("deliver %s: %w", chosen.Identity, err)
	}
	p.opts.Metrics.RecommendationsSent.Inc()
	res.Delivered = chosen
	p.log.Info("recommendation delivered", "title", chosen.Title, "link", chosen.Link, "source", chosen.Source)

	entry := ledger.Entry{
		Title:    chosen.Title,
		Link:     chosen.Identity,
		Summary:  chosen.Summary,
		SentTime: p.now(),
	}
	if len(chosen.Embedding) > 0 && p.opts.ModelVersion != "" {
		entry.Embedding = chosen.Embedding
		entry.ModelVersion = p.opts.ModelVersion
	}
	l.Append(ctx, entry)

	return res, nil
}
