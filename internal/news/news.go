// Package news fetches configured RSS feeds and renders a compact
// digest report for push delivery.
package news

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rolechat/internal/config"
)

// Item is one report entry.
type Item struct {
	Source    string
	Title     string
	Link      string
	Published time.Time
}

// Report is a rendered-ready digest.
type Report struct {
	Title       string
	GeneratedAt time.Time
	Items       []Item
}

// maxItemAge drops stale entries; a daily digest only wants the last
// day of news.
const maxItemAge = 24 * time.Hour

// Fetcher pulls and filters the configured feeds.
type Fetcher struct {
	cfg     config.NewsConfig
	timeout time.Duration
	logger  *zap.Logger

	// parse is swappable for tests.
	parse func(ctx context.Context, url string) (*gofeed.Feed, error)
}

// NewFetcher builds a fetcher from config.
func NewFetcher(cfg config.NewsConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout, err := time.ParseDuration(cfg.FetchTimeout)
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}

	parser := gofeed.NewParser()
	return &Fetcher{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger,
		parse: func(ctx context.Context, url string) (*gofeed.Feed, error) {
			return parser.ParseURLWithContext(url, ctx)
		},
	}
}

// Fetch pulls all feeds concurrently and returns the filtered, ranked
// items. A feed that fails to fetch is logged and skipped; the report
// is built from whatever arrived.
func (f *Fetcher) Fetch(ctx context.Context) ([]Item, error) {
	type feedResult struct {
		source string
		items  []Item
	}

	g, ctx := errgroup.WithContext(ctx)
	results := make(chan feedResult, len(f.cfg.Feeds))

	for source, url := range f.cfg.Feeds {
		if f.excluded(source) {
			continue
		}
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			feed, err := f.parse(fctx, url)
			if err != nil {
				f.logger.Warn("feed fetch failed",
					zap.String("source", source), zap.String("url", url), zap.Error(err))
				return nil
			}
			results <- feedResult{source: source, items: f.collect(source, feed)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	var items []Item
	seen := make(map[string]bool)
	for r := range results {
		for _, item := range r.items {
			if item.Link != "" && seen[item.Link] {
				continue
			}
			seen[item.Link] = true
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
	if max := f.cfg.MaxTotalItems; max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

// collect applies the per-feed filters: item cap, keyword include list
// and the freshness window.
func (f *Fetcher) collect(source string, feed *gofeed.Feed) []Item {
	cutoff := time.Now().Add(-maxItemAge)

	var out []Item
	for _, entry := range feed.Items {
		if f.cfg.MaxItemsPerFeed > 0 && len(out) >= f.cfg.MaxItemsPerFeed {
			break
		}
		published := time.Time{}
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		}
		if !published.IsZero() && published.Before(cutoff) {
			continue
		}
		if !f.matchesKeywords(entry.Title) {
			continue
		}
		out = append(out, Item{
			Source:    source,
			Title:     strings.TrimSpace(entry.Title),
			Link:      entry.Link,
			Published: published,
		})
	}
	return out
}

func (f *Fetcher) matchesKeywords(title string) bool {
	if len(f.cfg.IncludeKeywords) == 0 {
		return true
	}
	lower := strings.ToLower(title)
	for _, kw := range f.cfg.IncludeKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (f *Fetcher) excluded(source string) bool {
	for _, name := range f.cfg.ExcludeSources {
		if strings.EqualFold(name, source) {
			return true
		}
	}
	return false
}

// BuildReport fetches the feeds and wraps the items in a report.
func (f *Fetcher) BuildReport(ctx context.Context) (*Report, error) {
	items, err := f.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build news report: %w", err)
	}
	title := f.cfg.ReportTitle
	if title == "" {
		title = "Daily feed digest"
	}
	return &Report{
		Title:       title,
		GeneratedAt: time.Now(),
		Items:       items,
	}, nil
}
