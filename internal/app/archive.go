package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/deusflow/newspick/internal/news"
)

type archivedItem struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	CrawledAt time.Time `json:"crawled_at"`
}

// archive writes the collected batch to ResultsDir/rss_news_<timestamp>.json.
// Failures are logged only.
func (p *Pipeline) archive(items []*news.Item) {
	if p.opts.ResultsDir == "" || len(items) == 0 {
		return
	}

	now := p.now()
	out := make([]archivedItem, 0, len(items))
	for _, it := range items {
		out = append(out, archivedItem{
			Title:     it.Title,
			Link:      it.Link,
			Published: it.Published,
			Summary:   it.Summary,
			Source:    it.Source,
			CrawledAt: now,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		p.log.Warn("failed to encode batch archive", "error", err)
		return
	}
	if err := os.MkdirAll(p.opts.ResultsDir, 0o755); err != nil {
		p.log.Warn("failed to create results directory", "dir", p.opts.ResultsDir, "error", err)
		return
	}

	name := filepath.Join(p.opts.ResultsDir, "rss_news_"+now.Format("20060102_150405")+".json")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		p.log.Warn("failed to write batch archive", "file", name, "error", err)
		return
	}
	p.log.Info("batch archived", "file", name, "items", len(out))
}
