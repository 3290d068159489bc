package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/news"
)

const (
	// summaryParagraphs is how many leading paragraphs make up a summary.
	summaryParagraphs = 3
	// maxSummaryRunes caps the summary; longer text gets an ellipsis.
	maxSummaryRunes = 200
	userAgent       = "newspick/1.0 (+https://github.com/deusflow/newspick)"
)

// ArticleContent is the part of a page the pipeline keeps.
type ArticleContent struct {
	Title   string
	Summary string
	URL     string
}

type Scraper struct {
	client      *http.Client
	concurrency int
	log         *slog.Logger
}

// New creates a scraper that fetches at most concurrency pages at a time.
func New(timeout time.Duration, concurrency int, log *slog.Logger) *Scraper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scraper{
		client:      &http.Client{Timeout: timeout},
		concurrency: concurrency,
		log:         logger.OrNop(log),
	}
}

// ExtractArticle downloads url and builds its summary. An article without
// recognisable content yields an empty Summary and no error.
func (s *Scraper) ExtractArticle(ctx context.Context, url string) (*ArticleContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}

	return &ArticleContent{
		Title:   extractTitle(doc),
		Summary: Summarize(doc, url),
		URL:     url,
	}, nil
}

// SummarizeAll fills in Summary for every item, fetching pages concurrently.
// Pages that fail are logged and leave the summary empty, so the item drops
// out at the eligibility step. Only a done ctx is returned as an error.
func (s *Scraper) SummarizeAll(ctx context.Context, items []*news.Item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			article, err := s.ExtractArticle(gctx, it.Link)
			if err != nil {
				s.log.Warn("can't get article content", "url", it.Link, "error", err)
				return nil
			}
			if article.Summary == "" {
				s.log.Warn("no article content found", "url", it.Link)
				return nil
			}
			it.Summary = article.Summary
			if it.Title == "" {
				it.Title = article.Title
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

var (
	techCrunchSelectors = []string{"div.article-content", "div.content", "div.entry-content"}
	zdnetSelectors      = []string{
		"div.storyBody",
		"div.article-content",
		"div.story-body",
		"div.story-body-container",
		"article",
		"div#content",
		"div.main-content",
		"div.article-body",
	}
	genericSelectors = []string{
		"article",
		".article-body",
		".article-content",
		".post-content",
		".entry-content",
		"main",
		"#content",
	}
)

// Summarize finds the article body in doc with site-specific selectors and
// returns its first paragraphs joined with spaces, truncated to 200 runes.
func Summarize(doc *goquery.Document, url string) string {
	body := findContent(doc, selectorsFor(url))
	if body == nil {
		return ""
	}

	var parts []string
	paragraphs := body.Find("p")
	if paragraphs.Length() == 0 {
		paragraphs = body
	}
	paragraphs.EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if text := collapseSpaces(p.Text()); text != "" {
			parts = append(parts, text)
		}
		return len(parts) < summaryParagraphs
	})

	return truncate(strings.Join(parts, " "), maxSummaryRunes)
}

func selectorsFor(url string) []string {
	switch {
	case strings.Contains(url, "techcrunch.com"):
		return techCrunchSelectors
	case strings.Contains(url, "zdnet.com"):
		return zdnetSelectors
	default:
		return genericSelectors
	}
}

func findContent(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

// extractTitle gets article title
func extractTitle(doc *goquery.Document) string {
	selectors := []string{
		"h1",
		"title",
		".article-title",
		".headline",
		".entry-title",
	}

	for _, selector := range selectors {
		title := strings.TrimSpace(doc.Find(selector).First().Text())
		if title != "" {
			return title
		}
	}

	return ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
