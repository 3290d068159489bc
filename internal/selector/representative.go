package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/news"
	"github.com/deusflow/newspick/internal/vector"
)

// ErrNoEmbeddings is returned when not a single candidate could be embedded.
var ErrNoEmbeddings = errors.New("no candidate could be embedded")

// Representative picks the candidate closest to the centroid of the batch.
type Representative struct {
	enc news.Encoder
	log *slog.Logger
}

func NewRepresentative(enc news.Encoder, log *slog.Logger) *Representative {
	return &Representative{enc: enc, log: logger.OrNop(log)}
}

// Select returns the candidate whose embedding has the smallest Euclidean
// distance to the element-wise mean of all candidate embeddings. Ties go to
// the earliest candidate. An empty batch yields (nil, nil).
//
// Candidates that fail to embed are left out of the centroid. Embeddings of
// different lengths are a contract violation and fail the whole call with an
// error wrapping vector.ErrDimensionMismatch.
func (r *Representative) Select(ctx context.Context, candidates []*news.Item) (*news.Item, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	items := make([]*news.Item, 0, len(candidates))
	vecs := make([][]float32, 0, len(candidates))
	for _, c := range candidates {
		v, err := c.Embed(ctx, r.enc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.log.Warn("failed to embed candidate, leaving it out", "identity", c.Identity, "error", err)
			continue
		}
		items = append(items, c)
		vecs = append(vecs, v)
	}
	if len(items) == 0 {
		return nil, ErrNoEmbeddings
	}

	centroid, err := vector.Centroid(vecs)
	if err != nil {
		return nil, fmt.Errorf("select representative: %w", err)
	}

	best, bestDist := -1, 0.0
	for i, v := range vecs {
		d, err := vector.Euclidean(v, centroid)
		if err != nil {
			return nil, fmt.Errorf("select representative: %w", err)
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}

	r.log.Debug("representative selected",
		"identity", items[best].Identity,
		"distance", bestDist,
		"candidates", len(items))
	return items[best], nil
}
