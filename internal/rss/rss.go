package rss

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/news"
)

// FeedsConfig is YAML config structure
// feeds:
//   - https://...
type FeedsConfig struct {
	Feeds []string `yaml:"feeds"`
}

// LoadFeeds reads RSS feeds list from YAML file
func LoadFeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feeds config: %w", err)
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse feeds config %s: %w", path, err)
	}

	feeds := make([]string, 0, len(cfg.Feeds))
	for _, u := range cfg.Feeds {
		if u = strings.TrimSpace(u); u != "" {
			feeds = append(feeds, u)
		}
	}
	return feeds, nil
}

// Fetcher downloads feeds and turns their entries into news items.
type Fetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
	log     *slog.Logger
}

func NewFetcher(timeout time.Duration, log *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		parser:  gofeed.NewParser(),
		timeout: timeout,
		log:     logger.OrNop(log),
	}
}

// FetchAll downloads every feed in order. A feed that fails is logged and
// skipped; only a done ctx is returned as an error. Each item's Source is
// the feed title.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]*news.Item, error) {
	var all []*news.Item
	successCount := 0

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		items, err := f.fetch(ctx, url)
		if err != nil {
			f.log.Warn("failed to parse RSS feed", "url", url, "error", err)
			continue
		}
		all = append(all, items...)
		successCount++
		f.log.Info("loaded feed", "url", url, "items", len(items))
	}

	f.log.Info("processed RSS feeds", "ok", successCount, "total", len(urls), "items", len(all))
	return all, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]*news.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*news.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil || strings.TrimSpace(it.Link) == "" {
			continue
		}
		items = append(items, news.FromFeedItem(it, feed.Title))
	}
	return items, nil
}
