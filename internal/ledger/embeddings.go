package ledger

import (
	"context"
	"strings"
)

// Encoder is the subset of embedding.Provider the ledger needs.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	ModelVersion() string
}

// ScanEmbeddings calls fn with every current entry and its embedding under
// enc's model. A stored vector is reused only when its model version matches;
// otherwise the vector is recomputed from the stored summary and cached on the
// entry so the next flush persists it. Entries that cannot be embedded are
// logged and skipped. Iteration stops when fn returns false; only context
// errors are returned.
func (l *Ledger) ScanEmbeddings(ctx context.Context, enc Encoder, fn func(e Entry, vec []float32) bool) error {
	model := enc.ModelVersion()

	for i := range l.entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		e := &l.entries[i]
		vec := e.Embedding
		if len(vec) == 0 || e.ModelVersion != model {
			if strings.TrimSpace(e.Summary) == "" {
				l.log.Debug("ledger entry has no summary, skipping similarity check", "link", e.Link)
				continue
			}
			v, err := enc.Encode(ctx, e.Summary)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				l.log.Warn("failed to embed ledger entry, skipping it", "link", e.Link, "error", err)
				continue
			}
			e.Embedding = v
			e.ModelVersion = model
			vec = v
		}

		if !fn(*e, vec) {
			return nil
		}
	}
	return nil
}
