package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/ratelimit"
	"github.com/deusflow/newspick/internal/storage"
)

func TestHealthHandler(t *testing.T) {
	m := metrics.New()
	mux := newMonitoringMux(m, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	m.SetError("telegram down")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "telegram down")
}

func TestHealthHandler_EmbeddingStats(t *testing.T) {
	budget := ratelimit.NewEmbeddingBudget(200, logger.Nop())
	require.NoError(t, budget.Use())
	budget.RecordCacheHit()

	rec := httptest.NewRecorder()
	newMonitoringMux(metrics.New(), budget.GetStats).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string                 `json:"status"`
		Embeddings map[string]interface{} `json:"embeddings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1.0, body.Embeddings["embeddings_used"])
	assert.Equal(t, 200.0, body.Embeddings["embeddings_limit"])
	assert.Equal(t, 50.0, body.Embeddings["cache_hit_rate"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.RecommendationsSent.Inc()

	rec := httptest.NewRecorder()
	newMonitoringMux(m, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newspick_recommendations_sent_total 1")
}

func TestLedgerCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_news.json")
	store := storage.NewFileStore(path)
	now := time.Now()
	require.NoError(t, store.Save(context.Background(), []ledger.Entry{
		{Title: "Fresh story", Link: "https://example.com/fresh", Summary: "s", SentTime: now.Add(-time.Hour)},
		{Title: "Old story", Link: "https://example.com/old", Summary: "s", SentTime: now.Add(-48 * time.Hour)},
	}))

	t.Setenv("LEDGER_BACKEND", "file")
	t.Setenv("LEDGER_FILE_PATH", path)
	t.Setenv("LEDGER_RETENTION_HOURS", "24")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"ledger", "--env-file", filepath.Join(t.TempDir(), "none.env")})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "1 live entries")
	assert.Contains(t, out.String(), "https://example.com/fresh")
	assert.False(t, strings.Contains(out.String(), "https://example.com/old"))
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "abc", shorten("abc", 5))
	assert.Equal(t, "abcd…", shorten("abcdefgh", 5))
}
