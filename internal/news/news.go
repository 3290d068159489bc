package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// UnknownSource is used when a feed does not carry a title.
const UnknownSource = "Unknown Source"

// Encoder turns text into an embedding. It is satisfied by embedding.Provider.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Item is a candidate (or delivered) news entry.
type Item struct {
	// Identity is the canonical link and the exact-duplicate key.
	Identity string
	Summary  string

	Title     string
	Link      string
	Source    string
	Published time.Time

	// Embedding is computed lazily from Summary and kept for the whole run.
	Embedding []float32
}

// Embed returns the item's embedding, computing it on first use.
func (n *Item) Embed(ctx context.Context, enc Encoder) ([]float32, error) {
	if n.Embedding != nil {
		return n.Embedding, nil
	}
	v, err := enc.Encode(ctx, n.Summary)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", n.Identity, err)
	}
	n.Embedding = v
	return v, nil
}

// FromFeedItem converts a parsed feed entry. source is the feed title; the
// summary is filled in later by the scraper.
func FromFeedItem(item *gofeed.Item, source string) *Item {
	published := time.Now()
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	}

	source = strings.TrimSpace(source)
	if source == "" {
		source = UnknownSource
	}

	return &Item{
		Identity:  CanonicalLink(item.Link),
		Title:     strings.TrimSpace(item.Title),
		Link:      item.Link,
		Source:    source,
		Published: published,
	}
}

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

// CanonicalLink normalises a URL so that trivially different links to the same
// article share one identity: scheme and host are lowercased, "www." and the
// fragment are dropped, tracking parameters removed and the trailing slash trimmed.
func CanonicalLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// Eligible keeps items that can be embedded: a non-empty summary and an
// identity not seen earlier in the same batch. Input order is preserved.
func Eligible(items []*Item) []*Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]*Item, 0, len(items))
	for _, n := range items {
		if n == nil || strings.TrimSpace(n.Summary) == "" {
			continue
		}
		if _, dup := seen[n.Identity]; dup {
			continue
		}
		seen[n.Identity] = struct{}{}
		out = append(out, n)
	}
	return out
}
