package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned by Use once the run's call budget is spent.
var ErrBudgetExhausted = errors.New("embedding request budget exhausted")

// EmbeddingBudget caps how many embedding requests a single run makes and
// tracks how many were avoided by memoisation. Reset starts the next run.
type EmbeddingBudget struct {
	mu          sync.Mutex
	log         *slog.Logger
	used        int
	max         int // 0 = unlimited
	runStarted  time.Time
	cacheHits   int
	cacheMisses int
	now         func() time.Time
}

// NewEmbeddingBudget creates a budget of max requests per run.
// max <= 0 disables the cap.
func NewEmbeddingBudget(max int, log *slog.Logger) *EmbeddingBudget {
	if log == nil {
		log = slog.Default()
	}
	b := &EmbeddingBudget{
		log: log,
		max: max,
		now: time.Now,
	}
	b.runStarted = b.now()
	return b
}

// Use records one embedding request, or fails when the budget is spent.
func (b *EmbeddingBudget) Use() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.used >= b.max {
		b.log.Warn("embedding budget reached", "used", b.used, "limit", b.max)
		return fmt.Errorf("%w (%d/%d)", ErrBudgetExhausted, b.used, b.max)
	}

	b.used++
	b.cacheMisses++
	b.log.Debug("embedding request", "used", b.used, "limit", b.max)
	return nil
}

// RecordCacheHit records a request that was served from the memo.
func (b *EmbeddingBudget) RecordCacheHit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cacheHits++
}

func (b *EmbeddingBudget) hitRate() float64 {
	total := b.cacheHits + b.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(b.cacheHits) / float64(total) * 100
}

// GetStats returns the budget statistics of the current run.
func (b *EmbeddingBudget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"embeddings_used":  b.used,
		"embeddings_limit": b.max,
		"cache_hits":       b.cacheHits,
		"cache_misses":     b.cacheMisses,
		"cache_hit_rate":   b.hitRate(),
		"run_started":      b.runStarted,
	}
}

// Reset zeroes the counters. Called at the start of each run.
func (b *EmbeddingBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used > 0 || b.cacheHits > 0 {
		b.log.Info("resetting embedding budget",
			"used", b.used, "cache_hits", b.cacheHits, "hit_rate", b.hitRate())
	}
	b.used = 0
	b.cacheHits = 0
	b.cacheMisses = 0
	b.runStarted = b.now()
}
