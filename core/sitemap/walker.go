package sitemap

import (
	"context"
	"encoding/xml"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tky-kevin/travelkb/core/fetcher"
	"github.com/tky-kevin/travelkb/model"
)

const defaultMaxDepth = 5

// Fetcher is the part of fetcher.Fetcher the walker needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.FetchResult, error)
}

// Walker expands sitemap indexes into candidate article URLs.
type Walker struct {
	fetcher Fetcher
	logger  *slog.Logger

	// IsRelevantSitemap decides which nested sitemaps of an index are followed.
	IsRelevantSitemap func(loc string) bool
	// BelongsToDomain decides which urlset entries are kept. Nil keeps entries
	// on the host of the root sitemap.
	BelongsToDomain func(loc string) bool
	MaxDepth        int
}

// NewWalker creates a walker whose predicates are substring matches on the configured markers.
func NewWalker(f Fetcher, config model.CrawlConfig, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Walker{
		fetcher:           f,
		logger:            logger,
		IsRelevantSitemap: ContainsMarker(config.SitemapMarker),
		MaxDepth:          config.MaxSitemapDepth,
	}
	if config.DomainMarker != "" {
		w.BelongsToDomain = ContainsMarker(config.DomainMarker)
	}
	if w.MaxDepth <= 0 {
		w.MaxDepth = defaultMaxDepth
	}
	return w
}

// ContainsMarker returns a predicate matching locations that contain marker.
// An empty marker matches everything.
func ContainsMarker(marker string) func(string) bool {
	return func(loc string) bool {
		return strings.Contains(loc, marker)
	}
}

// SameHost returns a predicate matching locations on the host of rawURL.
func SameHost(rawURL string) func(string) bool {
	root, err := url.Parse(rawURL)
	if err != nil || root.Host == "" {
		return func(string) bool { return false }
	}
	host := strings.ToLower(root.Hostname())
	return func(loc string) bool {
		u, err := url.Parse(loc)
		return err == nil && strings.ToLower(u.Hostname()) == host
	}
}

// Candidates walks sitemapURL lazily. Every range over the returned sequence
// fetches the sitemaps again; nothing is cached between walks.
// Failing branches contribute no candidates; a failing root yields an empty sequence.
func (w *Walker) Candidates(ctx context.Context, sitemapURL string) iter.Seq[model.CandidateURL] {
	return func(yield func(model.CandidateURL) bool) {
		belongs := w.BelongsToDomain
		if belongs == nil {
			belongs = SameHost(sitemapURL)
		}

		walk := &walk{
			walker:  w,
			belongs: belongs,
			visited: map[string]bool{},
			yield:   yield,
		}
		walk.visit(ctx, sitemapURL, 0)
	}
}

// CollectCandidates drains Candidates, keeping the first occurrence of each URL
// with the newest last modification seen for it.
func (w *Walker) CollectCandidates(ctx context.Context, sitemapURL string) []model.CandidateURL {
	candidates := []model.CandidateURL{}
	index := map[string]int{}

	for c := range w.Candidates(ctx, sitemapURL) {
		if i, ok := index[c.URL]; ok {
			if c.LastModified.After(candidates[i].LastModified) {
				candidates[i].LastModified = c.LastModified
			}
			continue
		}
		index[c.URL] = len(candidates)
		candidates = append(candidates, c)
	}
	return candidates
}

type walk struct {
	walker  *Walker
	belongs func(string) bool
	visited map[string]bool
	yield   func(model.CandidateURL) bool
}

// visit returns false once the consumer stopped ranging.
func (wk *walk) visit(ctx context.Context, sitemapURL string, depth int) bool {
	logger := wk.walker.logger

	if ctx.Err() != nil {
		return false
	}
	if depth > wk.walker.MaxDepth {
		logger.Warn("Sitemap nesting too deep, skipping", "url", sitemapURL, "depth", depth)
		return true
	}
	if wk.visited[sitemapURL] {
		logger.Warn("Sitemap already visited, skipping", "url", sitemapURL)
		return true
	}
	wk.visited[sitemapURL] = true

	result, err := wk.walker.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		logger.Warn("Failed to fetch sitemap, continuing", "url", sitemapURL, "error", err)
		return true
	}

	switch result.Kind {
	case fetcher.KindSitemapIndex:
		var index sitemapIndex
		if err := xml.Unmarshal(result.Body, &index); err != nil {
			logger.Warn("Failed to parse sitemap index, continuing", "url", sitemapURL, "error", err)
			return true
		}
		logger.Debug("Found sub-sitemaps", "url", sitemapURL, "count", len(index.Sitemaps))
		for _, sm := range index.Sitemaps {
			loc := strings.TrimSpace(sm.Location)
			if loc == "" || !wk.walker.IsRelevantSitemap(loc) {
				continue
			}
			if !wk.visit(ctx, loc, depth+1) {
				return false
			}
		}
	case fetcher.KindURLSet:
		var set urlSet
		if err := xml.Unmarshal(result.Body, &set); err != nil {
			logger.Warn("Failed to parse urlset, continuing", "url", sitemapURL, "error", err)
			return true
		}
		logger.Debug("Found URLs in sitemap", "url", sitemapURL, "count", len(set.URLs))
		for _, entry := range set.URLs {
			loc := strings.TrimSpace(entry.Location)
			if loc == "" || !wk.belongs(loc) {
				continue
			}
			candidate := model.CandidateURL{
				URL:          loc,
				LastModified: ParseLastModified(entry.LastMod),
			}
			if !wk.yield(candidate) {
				return false
			}
		}
	default:
		logger.Warn("Not a sitemap, continuing", "url", sitemapURL, "kind", string(result.Kind))
	}
	return true
}

var lastModifiedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
}

// ParseLastModified parses a sitemap lastmod value. It accepts RFC 3339 with
// fractional seconds, offset-less date-times and minute precision, then falls
// back to a YYYY-MM-DD prefix. Anything else is the zero time, which sorts last.
func ParseLastModified(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}

	for _, layout := range lastModifiedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}

	if len(value) >= 10 {
		if t, err := time.Parse(time.DateOnly, value[:10]); err == nil {
			return t
		}
	}

	return time.Time{}
}

type sitemapIndex struct {
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Location string `xml:"loc"`
}

type urlSet struct {
	URLs []urlEntry `xml:"url"`
}

type urlEntry struct {
	Location string `xml:"loc"`
	LastMod  string `xml:"lastmod"`
}
