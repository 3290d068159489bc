package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/news"
	"github.com/deusflow/newspick/internal/vector"
)

type memStore struct {
	entries []ledger.Entry
}

func (m *memStore) Load(context.Context) ([]ledger.Entry, error) {
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memStore) Save(_ context.Context, entries []ledger.Entry) error {
	m.entries = append([]ledger.Entry(nil), entries...)
	return nil
}

type tableEncoder struct {
	vectors map[string][]float32
	calls   int
}

func (e *tableEncoder) ModelVersion() string { return "test/v1" }

func (e *tableEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	e.calls++
	v, ok := e.vectors[text]
	if !ok {
		return nil, errors.New("model unavailable")
	}
	return v, nil
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, entries ...ledger.Entry) *ledger.Ledger {
	t.Helper()
	return ledger.Open(context.Background(), &memStore{entries: entries}, ledger.Options{Log: logger.Nop()})
}

func TestIsDuplicate_ExactMatchNeedsNoEmbedding(t *testing.T) {
	enc := &tableEncoder{}
	m := metrics.New()
	f := New(enc, DefaultThreshold, logger.Nop(), m)
	l := newLedger(t, ledger.Entry{Link: "https://example.com/a", Summary: "a", SentTime: now.Add(-time.Hour)})

	d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "https://example.com/a", Summary: "anything"}, l, now)
	require.NoError(t, err)
	assert.True(t, d.Duplicate)
	assert.True(t, d.Exact)
	assert.Equal(t, "https://example.com/a", d.MatchedIdentity)
	assert.Equal(t, 0, enc.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesFiltered.WithLabelValues("exact")))
}

func TestIsDuplicate_EmptyLedgerNeedsNoEmbedding(t *testing.T) {
	enc := &tableEncoder{}
	f := New(enc, DefaultThreshold, logger.Nop(), nil)

	d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "x", Summary: "text"}, newLedger(t), now)
	require.NoError(t, err)
	assert.False(t, d.Duplicate)
	assert.Equal(t, 0, enc.calls)
}

func TestIsDuplicate_ThresholdIsStrict(t *testing.T) {
	enc := &tableEncoder{vectors: map[string][]float32{
		"candidate": {1, 0},
		"delivered": {1, 1},
	}}
	sim, err := vector.Cosine([]float32{1, 0}, []float32{1, 1})
	require.NoError(t, err)

	entry := ledger.Entry{Link: "https://example.com/old", Summary: "delivered", SentTime: now.Add(-time.Hour)}

	atThreshold := New(enc, sim, logger.Nop(), nil)
	d, err := atThreshold.IsDuplicate(context.Background(), &news.Item{Identity: "new", Summary: "candidate"}, newLedger(t, entry), now)
	require.NoError(t, err)
	assert.False(t, d.Duplicate, "similarity equal to the threshold is not a duplicate")
	assert.InDelta(t, sim, d.Similarity, 1e-12)

	below := New(enc, sim-1e-9, logger.Nop(), nil)
	d, err = below.IsDuplicate(context.Background(), &news.Item{Identity: "new", Summary: "candidate"}, newLedger(t, entry), now)
	require.NoError(t, err)
	assert.True(t, d.Duplicate)
	assert.False(t, d.Exact)
	assert.Equal(t, "https://example.com/old", d.MatchedIdentity)
}

func TestIsDuplicate_NearDuplicate(t *testing.T) {
	enc := &tableEncoder{vectors: map[string][]float32{
		"Apple unveils new iPhone":       {0.9, 0.1, 0},
		"Apple announces the new iPhone": {0.88, 0.12, 0.01},
		"Stock markets fall":             {0, 0.2, 0.9},
	}}
	m := metrics.New()
	f := New(enc, DefaultThreshold, logger.Nop(), m)
	l := newLedger(t,
		ledger.Entry{Link: "https://example.com/markets", Summary: "Stock markets fall", SentTime: now.Add(-2 * time.Hour)},
		ledger.Entry{Link: "https://example.com/iphone", Summary: "Apple unveils new iPhone", SentTime: now.Add(-time.Hour)},
	)

	d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "https://other.com/iphone", Summary: "Apple announces the new iPhone"}, l, now)
	require.NoError(t, err)
	assert.True(t, d.Duplicate)
	assert.Equal(t, "https://example.com/iphone", d.MatchedIdentity)
	assert.Greater(t, d.Similarity, DefaultThreshold)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesFiltered.WithLabelValues("near")))
}

func TestIsDuplicate_ExpiredEntriesDoNotCount(t *testing.T) {
	enc := &tableEncoder{vectors: map[string][]float32{"same": {1, 0}}}
	f := New(enc, DefaultThreshold, logger.Nop(), nil)

	for _, age := range []time.Duration{24 * time.Hour, 30 * time.Hour} {
		l := newLedger(t, ledger.Entry{Link: "https://example.com/a", Summary: "same", SentTime: now.Add(-age)})

		d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "https://example.com/a", Summary: "same"}, l, now)
		require.NoError(t, err)
		assert.False(t, d.Duplicate, "age=%s", age)
		assert.Equal(t, 0, l.Len())
	}

	l := newLedger(t, ledger.Entry{Link: "https://example.com/a", Summary: "same", SentTime: now.Add(-24*time.Hour + time.Second)})
	d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "https://example.com/a", Summary: "same"}, l, now)
	require.NoError(t, err)
	assert.True(t, d.Duplicate)
}

func TestIsDuplicate_ZeroVectorIsNeverDuplicate(t *testing.T) {
	enc := &tableEncoder{vectors: map[string][]float32{
		"blank":     {0, 0},
		"delivered": {0, 0},
	}}
	f := New(enc, DefaultThreshold, logger.Nop(), nil)
	l := newLedger(t, ledger.Entry{Link: "old", Summary: "delivered", SentTime: now.Add(-time.Minute)})

	d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "new", Summary: "blank"}, l, now)
	require.NoError(t, err)
	assert.False(t, d.Duplicate)
	assert.Zero(t, d.Similarity)
}

func TestIsDuplicate_CandidateEmbeddingFailure(t *testing.T) {
	enc := &tableEncoder{vectors: map[string][]float32{"delivered": {1, 0}}}
	f := New(enc, DefaultThreshold, logger.Nop(), nil)
	l := newLedger(t, ledger.Entry{Link: "old", Summary: "delivered", SentTime: now.Add(-time.Minute)})

	_, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "new", Summary: "unknown text"}, l, now)
	assert.Error(t, err)
}

func TestIsDuplicate_LedgerEntryFailureIsSkipped(t *testing.T) {
	enc := &tableEncoder{vectors: map[string][]float32{
		"candidate": {1, 0},
		"similar":   {1, 0.01},
	}}
	f := New(enc, DefaultThreshold, logger.Nop(), nil)
	l := newLedger(t,
		ledger.Entry{Link: "broken", Summary: "cannot embed", SentTime: now.Add(-2 * time.Minute)},
		ledger.Entry{Link: "similar", Summary: "similar", SentTime: now.Add(-time.Minute)},
	)

	d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "new", Summary: "candidate"}, l, now)
	require.NoError(t, err)
	assert.True(t, d.Duplicate)
	assert.Equal(t, "similar", d.MatchedIdentity)
}

func TestIsDuplicate_StoredEmbeddingReused(t *testing.T) {
	enc := &tableEncoder{vectors: map[string][]float32{"candidate": {0, 1}}}
	f := New(enc, DefaultThreshold, logger.Nop(), nil)
	l := newLedger(t, ledger.Entry{
		Link: "old", Summary: "not in table", SentTime: now.Add(-time.Minute),
		Embedding: []float32{0, 2}, ModelVersion: "test/v1",
	})

	d, err := f.IsDuplicate(context.Background(), &news.Item{Identity: "new", Summary: "candidate"}, l, now)
	require.NoError(t, err)
	assert.True(t, d.Duplicate)
	assert.Equal(t, 1, enc.calls, "only the candidate is embedded")
}

func TestNew_ThresholdFallback(t *testing.T) {
	assert.Equal(t, DefaultThreshold, New(&tableEncoder{}, 0, nil, nil).Threshold())
	assert.Equal(t, DefaultThreshold, New(&tableEncoder{}, 1.5, nil, nil).Threshold())
	assert.Equal(t, 0.9, New(&tableEncoder{}, 0.9, nil, nil).Threshold())
}
