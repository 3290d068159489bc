// Package selector turns one collected batch into at most one recommendation:
// already delivered stories are filtered out and the most representative of
// the rest is chosen.
package selector

import (
	"context"
	"log/slog"
	"time"

	"github.com/deusflow/newspick/internal/dedup"
	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/news"
)

type Selector struct {
	filter  *dedup.Filter
	rep     *Representative
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(filter *dedup.Filter, rep *Representative, log *slog.Logger, m *metrics.Metrics) *Selector {
	return &Selector{
		filter:  filter,
		rep:     rep,
		log:     logger.OrNop(log),
		metrics: m,
	}
}

// Pick drops candidates already delivered according to l and returns the
// representative of the remainder, or nil when nothing is left. Candidates
// that cannot be embedded for the duplicate check are skipped. Pick never
// writes to l; the caller appends after a confirmed delivery.
func (s *Selector) Pick(ctx context.Context, candidates []*news.Item, l *ledger.Ledger, now time.Time) (*news.Item, error) {
	if s.metrics != nil {
		s.metrics.BatchesProcessed.Inc()
		s.metrics.CandidatesSeen.Add(float64(len(candidates)))
	}

	fresh := make([]*news.Item, 0, len(candidates))
	failed := 0
	for _, c := range candidates {
		d, err := s.filter.IsDuplicate(ctx, c, l, now)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failed++
			s.log.Warn("skipping candidate, duplicate check failed", "identity", c.Identity, "error", err)
			continue
		}
		if d.Duplicate {
			continue
		}
		fresh = append(fresh, c)
	}

	if len(fresh) == 0 {
		if failed > 0 && failed == len(candidates) {
			return nil, ErrNoEmbeddings
		}
		s.log.Info("no recommendation this cycle", "candidates", len(candidates), "skipped", failed)
		return nil, nil
	}

	s.log.Debug("selecting representative", "fresh", len(fresh), "candidates", len(candidates))
	return s.rep.Select(ctx, fresh)
}
