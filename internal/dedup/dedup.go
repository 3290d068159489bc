// Package dedup decides whether a candidate was already delivered, either as
// the same link or as a near-identical story within the ledger window.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/news"
	"github.com/deusflow/newspick/internal/vector"
)

// DefaultThreshold is the cosine similarity above which two summaries are
// treated as the same story.
const DefaultThreshold = 0.85

// Decision explains an IsDuplicate verdict. For a non-duplicate,
// MatchedIdentity and Similarity describe the closest live entry, if any.
type Decision struct {
	Duplicate bool
	// Exact is set when the identity matched; no embedding was computed.
	Exact           bool
	MatchedIdentity string
	Similarity      float64
}

type Filter struct {
	enc       ledger.Encoder
	threshold float64
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a Filter. A threshold outside (0, 1] falls back to DefaultThreshold.
func New(enc ledger.Encoder, threshold float64, log *slog.Logger, m *metrics.Metrics) *Filter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Filter{
		enc:       enc,
		threshold: threshold,
		log:       logger.OrNop(log),
		metrics:   m,
	}
}

func (f *Filter) Threshold() float64 {
	return f.threshold
}

// IsDuplicate prunes l at now and checks candidate against what is left.
// An error means the candidate could not be embedded (or ctx ended); the
// caller should skip it. Ledger entries that cannot be embedded are skipped.
func (f *Filter) IsDuplicate(ctx context.Context, candidate *news.Item, l *ledger.Ledger, now time.Time) (Decision, error) {
	l.Prune(now)

	if l.ContainsIdentity(candidate.Identity) {
		f.count("exact")
		f.log.Debug("candidate already delivered", "identity", candidate.Identity)
		return Decision{Duplicate: true, Exact: true, MatchedIdentity: candidate.Identity, Similarity: 1}, nil
	}

	if l.Len() == 0 {
		return Decision{}, nil
	}

	vec, err := candidate.Embed(ctx, f.enc)
	if err != nil {
		return Decision{}, err
	}

	var best Decision
	err = l.ScanEmbeddings(ctx, f.enc, func(e ledger.Entry, stored []float32) bool {
		sim, err := vector.Cosine(vec, stored)
		if err != nil {
			f.log.Warn("ledger embedding has a different dimension, skipping it", "link", e.Link, "error", err)
			return true
		}
		if sim > f.threshold {
			best = Decision{Duplicate: true, MatchedIdentity: e.Link, Similarity: sim}
			return false
		}
		if sim > best.Similarity {
			best.Similarity = sim
			best.MatchedIdentity = e.Link
		}
		return true
	})
	if err != nil {
		return Decision{}, err
	}

	if best.Duplicate {
		f.count("near")
		f.log.Info("candidate is a near duplicate",
			"identity", candidate.Identity,
			"matched", best.MatchedIdentity,
			"similarity", best.Similarity,
			"threshold", f.threshold)
	}
	return best, nil
}

func (f *Filter) count(kind string) {
	if f.metrics != nil {
		f.metrics.DuplicatesFiltered.WithLabelValues(kind).Inc()
	}
}
