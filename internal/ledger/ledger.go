// Package ledger keeps the time-windowed record of delivered news items.
//
// The ledger is append-only with lazy pruning: entries older than the
// retention window are dropped on the next Prune, and every Append flushes the
// full ledger to its Store. Persistence failures are logged and counted but
// never returned; the in-memory ledger stays authoritative for the process.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
)

// DefaultRetention is how long a delivered item suppresses re-delivery.
const DefaultRetention = 24 * time.Hour

// ErrCorrupt marks durable state that exists but cannot be decoded.
var ErrCorrupt = errors.New("ledger state is corrupt")

// Entry is one delivered item. Link is its identity.
type Entry struct {
	Title    string    `json:"title"`
	Link     string    `json:"link"`
	Summary  string    `json:"summary"`
	SentTime time.Time `json:"sent_time"`

	// Embedding is only meaningful for the model that produced it.
	Embedding    []float32 `json:"embedding,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
}

// Store is the durable backing of a Ledger.
type Store interface {
	// Load returns the persisted entries; a missing store yields (nil, nil).
	Load(ctx context.Context) ([]Entry, error)
	// Save atomically replaces the persisted entries.
	Save(ctx context.Context, entries []Entry) error
}

// Locker is implemented by stores that can serialise concurrent runs.
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

type Options struct {
	Retention time.Duration
	Log       *slog.Logger
	Metrics   *metrics.Metrics
}

type Ledger struct {
	store     Store
	entries   []Entry
	retention time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// Open loads the ledger from store. A missing or unreadable store gives an
// empty ledger; the failure is logged, never returned.
func Open(ctx context.Context, store Store, opts Options) *Ledger {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	l := &Ledger{
		store:     store,
		retention: opts.Retention,
		log:       logger.OrNop(opts.Log),
		metrics:   opts.Metrics,
	}

	entries, err := store.Load(ctx)
	if err != nil {
		l.log.Error("failed to load delivery ledger, starting empty", "error", err)
		return l
	}
	l.entries = entries
	l.log.Info("delivery ledger loaded", "entries", len(entries))
	return l
}

// Reload merges the durable state into memory. Entries only present in
// memory (for example because their write failed) are kept. On a read
// failure the in-memory state is left untouched.
func (l *Ledger) Reload(ctx context.Context) {
	stored, err := l.store.Load(ctx)
	if err != nil {
		l.log.Warn("failed to reload delivery ledger, keeping in-memory state", "error", err)
		return
	}

	seen := make(map[entryKey]struct{}, len(stored))
	for _, e := range stored {
		seen[keyOf(e)] = struct{}{}
	}
	merged := stored
	for _, e := range l.entries {
		if _, ok := seen[keyOf(e)]; !ok {
			merged = append(merged, e)
		}
	}
	l.entries = merged
}

// Lock acquires the store's advisory lock when it has one. The returned
// function releases it and is never nil.
func (l *Ledger) Lock(ctx context.Context) (func() error, error) {
	locker, ok := l.store.(Locker)
	if !ok {
		return func() error { return nil }, nil
	}
	return locker.Lock(ctx)
}

// Prune drops every entry sent at or before now - retention and returns how
// many were removed.
func (l *Ledger) Prune(now time.Time) int {
	cutoff := now.Add(-l.retention)

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.SentTime.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.entries) - len(kept)
	clear(l.entries[len(kept):])
	l.entries = kept

	if removed > 0 {
		l.log.Debug("pruned expired ledger entries", "removed", removed, "cutoff", cutoff)
	}
	return removed
}

// ContainsIdentity reports whether a current entry has the given link.
func (l *Ledger) ContainsIdentity(identity string) bool {
	for _, e := range l.entries {
		if e.Link == identity {
			return true
		}
	}
	return false
}

// Live returns a copy of the current entries, oldest first.
func (l *Ledger) Live() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

func (l *Ledger) Retention() time.Duration {
	return l.retention
}

// Append records a delivered item and flushes the ledger. SentTime is stored
// in UTC at microsecond precision, the finest a TIMESTAMPTZ column keeps.
func (l *Ledger) Append(ctx context.Context, e Entry) {
	if e.SentTime.IsZero() {
		e.SentTime = time.Now()
	}
	e.SentTime = normalizeTime(e.SentTime)
	l.entries = append(l.entries, e)
	l.flush(ctx)
}

func (l *Ledger) flush(ctx context.Context) {
	if err := l.store.Save(ctx, l.Live()); err != nil {
		l.log.Error("failed to persist delivery ledger, continuing in memory", "error", err, "entries", len(l.entries))
		if l.metrics != nil {
			l.metrics.LedgerWriteFailures.Inc()
		}
	}
}

type entryKey struct {
	link string
	sent int64
}

func keyOf(e Entry) entryKey {
	return entryKey{link: e.Link, sent: normalizeTime(e.SentTime).UnixMicro()}
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
