package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	entries []Entry
	loadErr error
	saveErr error
	saves   int
	locked  bool
}

func (m *memStore) Load(context.Context) ([]Entry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStore) Save(_ context.Context, entries []Entry) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries = append([]Entry(nil), entries...)
	return nil
}

// microStore keeps timestamps at microsecond precision like a TIMESTAMPTZ column.
type microStore struct {
	memStore
}

func (m *microStore) Save(ctx context.Context, entries []Entry) error {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.SentTime = e.SentTime.Truncate(time.Microsecond)
		out[i] = e
	}
	return m.memStore.Save(ctx, out)
}

type lockingStore struct {
	memStore
}

func (l *lockingStore) Lock(context.Context) (func() error, error) {
	l.locked = true
	return func() error { l.locked = false; return nil }, nil
}

type fakeEncoder struct {
	model string
	calls int
	err   error
}

func (f *fakeEncoder) ModelVersion() string { return f.model }

func (f *fakeEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func openLedger(t *testing.T, s Store) *Ledger {
	t.Helper()
	return Open(context.Background(), s, Options{Log: logger.Nop()})
}

func TestOpen_LoadFailureGivesEmptyLedger(t *testing.T) {
	l := openLedger(t, &memStore{loadErr: fmt.Errorf("%w: bad json", ErrCorrupt)})
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, DefaultRetention, l.Retention())
}

func TestPrune_Boundary(t *testing.T) {
	s := &memStore{entries: []Entry{
		{Link: "old", SentTime: t0.Add(-24 * time.Hour)},
		{Link: "older", SentTime: t0.Add(-30 * time.Hour)},
		{Link: "fresh", SentTime: t0.Add(-24*time.Hour + time.Nanosecond)},
	}}
	l := openLedger(t, s)

	removed := l.Prune(t0)
	assert.Equal(t, 2, removed)
	require.Len(t, l.Live(), 1)
	assert.Equal(t, "fresh", l.Live()[0].Link)

	for _, e := range l.Live() {
		assert.True(t, e.SentTime.After(t0.Add(-DefaultRetention)))
	}
}

func TestPrune_Idempotent(t *testing.T) {
	s := &memStore{entries: []Entry{
		{Link: "a", SentTime: t0.Add(-25 * time.Hour)},
		{Link: "b", SentTime: t0.Add(-time.Hour)},
	}}
	l := openLedger(t, s)

	assert.Equal(t, 1, l.Prune(t0))
	before := l.Live()
	assert.Equal(t, 0, l.Prune(t0))
	assert.Equal(t, before, l.Live())
}

func TestContainsIdentity_RespectsWindow(t *testing.T) {
	l := openLedger(t, &memStore{})
	l.Append(context.Background(), Entry{Link: "https://example.com/x", SentTime: t0})

	for _, eps := range []time.Duration{0, time.Second, 23 * time.Hour, 24*time.Hour - time.Nanosecond} {
		l.Prune(t0.Add(eps))
		assert.True(t, l.ContainsIdentity("https://example.com/x"), "eps=%s", eps)
	}

	l.Prune(t0.Add(24 * time.Hour))
	assert.False(t, l.ContainsIdentity("https://example.com/x"))
}

func TestAppend_Persists(t *testing.T) {
	s := &memStore{}
	l := openLedger(t, s)

	l.Append(context.Background(), Entry{Link: "a", SentTime: t0})
	l.Append(context.Background(), Entry{Link: "b"})

	assert.Equal(t, 2, s.saves)
	require.Len(t, s.entries, 2)
	assert.False(t, s.entries[1].SentTime.IsZero(), "zero sent time is stamped")
}

func TestAppend_WriteFailureKeepsMemory(t *testing.T) {
	s := &memStore{saveErr: errors.New("disk full")}
	m := metrics.New()
	l := Open(context.Background(), s, Options{Log: logger.Nop(), Metrics: m})

	l.Append(context.Background(), Entry{Link: "a", SentTime: t0})

	assert.True(t, l.ContainsIdentity("a"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerWriteFailures))
}

func TestReload_MergesUnpersistedEntries(t *testing.T) {
	s := &memStore{saveErr: errors.New("disk full")}
	l := openLedger(t, s)
	l.Append(context.Background(), Entry{Link: "mine", SentTime: t0})

	// another process wrote its own entry meanwhile
	s.entries = []Entry{{Link: "theirs", SentTime: t0.Add(time.Minute)}}
	l.Reload(context.Background())

	assert.True(t, l.ContainsIdentity("mine"))
	assert.True(t, l.ContainsIdentity("theirs"))
	assert.Equal(t, 2, l.Len())

	// reloading again does not duplicate anything
	l.Reload(context.Background())
	assert.Equal(t, 2, l.Len())
}

func TestReload_ReadFailureKeepsMemory(t *testing.T) {
	s := &memStore{}
	l := openLedger(t, s)
	l.Append(context.Background(), Entry{Link: "a", SentTime: t0})

	s.loadErr = errors.New("io error")
	l.Reload(context.Background())
	assert.True(t, l.ContainsIdentity("a"))
}

func TestLock(t *testing.T) {
	plain := openLedger(t, &memStore{})
	unlock, err := plain.Lock(context.Background())
	require.NoError(t, err)
	assert.NoError(t, unlock())

	s := &lockingStore{}
	l := openLedger(t, s)
	unlock, err = l.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, s.locked)
	require.NoError(t, unlock())
	assert.False(t, s.locked)
}

func TestScanEmbeddings_ReusesMatchingModel(t *testing.T) {
	s := &memStore{entries: []Entry{
		{Link: "a", Summary: "abc", SentTime: t0, Embedding: []float32{9}, ModelVersion: "m1"},
		{Link: "b", Summary: "abcd", SentTime: t0, Embedding: []float32{9}, ModelVersion: "old"},
		{Link: "c", Summary: "abcde", SentTime: t0},
		{Link: "d", Summary: "", SentTime: t0},
	}}
	l := openLedger(t, s)
	enc := &fakeEncoder{model: "m1"}

	got := map[string][]float32{}
	err := l.ScanEmbeddings(context.Background(), enc, func(e Entry, v []float32) bool {
		got[e.Link] = v
		return true
	})
	require.NoError(t, err)

	assert.Equal(t, []float32{9}, got["a"])
	assert.Equal(t, []float32{4}, got["b"])
	assert.Equal(t, []float32{5}, got["c"])
	assert.NotContains(t, got, "d")
	assert.Equal(t, 2, enc.calls)

	// recomputed vectors are cached on the entries
	for _, e := range l.Live()[:3] {
		assert.Equal(t, "m1", e.ModelVersion)
	}
	_ = l.ScanEmbeddings(context.Background(), enc, func(Entry, []float32) bool { return true })
	assert.Equal(t, 2, enc.calls)
}

func TestScanEmbeddings_StopsAndSkips(t *testing.T) {
	s := &memStore{entries: []Entry{
		{Link: "a", Summary: "x", SentTime: t0},
		{Link: "b", Summary: "y", SentTime: t0},
	}}
	l := openLedger(t, s)

	failing := &fakeEncoder{model: "m", err: errors.New("503")}
	visited := 0
	require.NoError(t, l.ScanEmbeddings(context.Background(), failing, func(Entry, []float32) bool {
		visited++
		return true
	}))
	assert.Equal(t, 0, visited)

	ok := &fakeEncoder{model: "m"}
	require.NoError(t, l.ScanEmbeddings(context.Background(), ok, func(Entry, []float32) bool {
		visited++
		return false
	}))
	assert.Equal(t, 1, visited)
}

func TestScanEmbeddings_ContextCancelled(t *testing.T) {
	l := openLedger(t, &memStore{entries: []Entry{{Link: "a", Summary: "x", SentTime: t0}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.ScanEmbeddings(ctx, &fakeEncoder{model: "m"}, func(Entry, []float32) bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReload_MicrosecondStoreDoesNotDuplicate(t *testing.T) {
	s := &microStore{}
	l := openLedger(t, s)

	sent := t0.Add(123456789 * time.Nanosecond)
	l.Append(context.Background(), Entry{Link: "x", SentTime: sent})

	for run := 1; run <= 3; run++ {
		l.Reload(context.Background())
		l.Append(context.Background(), Entry{
			Link:     fmt.Sprintf("run-%d", run),
			SentTime: sent.Add(time.Duration(run)*time.Hour + 7*time.Nanosecond),
		})

		assert.Equal(t, run+1, l.Len(), "run %d", run)
		assert.Len(t, s.entries, run+1, "run %d", run)
	}

	rows := 0
	for _, e := range s.entries {
		if e.Link == "x" {
			rows++
		}
	}
	assert.Equal(t, 1, rows)
}

func TestAppend_NormalizesSentTime(t *testing.T) {
	s := &memStore{}
	l := openLedger(t, s)

	local := time.Date(2026, 5, 1, 14, 0, 0, 999, time.FixedZone("CEST", 2*3600))
	l.Append(context.Background(), Entry{Link: "a", SentTime: local})

	require.Len(t, s.entries, 1)
	got := s.entries[0].SentTime
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 0, got.Nanosecond()%1000)
	assert.True(t, got.Equal(local.Truncate(time.Microsecond)))
}
