package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tky-kevin/travelkb/core/extractor"
	"github.com/tky-kevin/travelkb/core/fetcher"
	"github.com/tky-kevin/travelkb/core/pipeline"
	"github.com/tky-kevin/travelkb/core/sitemap"
	"github.com/tky-kevin/travelkb/database"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
)

const (
	MessageNoURLs            = "no URLs found"
	MessageAlreadyIndexed    = "already indexed"
	MessageCancelled         = "crawl cancelled"
	MessageAlreadyRunning    = "crawl already running"
	MessageUnconfigured      = "embedding provider not configured"
	MessageEmbeddingDegraded = "embedding provider failing"
)

// maxEmbeddingFailures is the number of consecutive pages without any embedding
// after which a sitemap pass stops fetching.
const maxEmbeddingFailures = 3

// ErrNoContent is returned for a page that yields no storable chunk.
var ErrNoContent = errors.New("no valid content found to index")

// PageResult is the outcome of indexing one page.
type PageResult struct {
	Document *model.SourceDocument
	Chunks   int
	// Skipped is set when the URL already had chunks; nothing was fetched.
	Skipped bool
}

// PageFetcher retrieves one URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.FetchResult, error)
}

// CrawlLocker serializes crawl passes.
type CrawlLocker interface {
	TryCrawlLock(ctx context.Context) (release func(), ok bool, err error)
}

// Crawler drives fetch, extract, chunk, embed and store for a page or a sitemap.
// A pass is sequential: one page at a time, with a fixed delay between fetches.
type Crawler struct {
	fetcher  PageFetcher
	walker   *sitemap.Walker
	pipeline *pipeline.Pipeline
	store    database.ChunksDBHandlerFunctions
	locker   CrawlLocker
	metrics  *Metrics
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLocker makes every pass take the crawl lock first.
func WithLocker(locker CrawlLocker) Option {
	return func(c *Crawler) { c.locker = locker }
}

// WithMetrics records pass metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Crawler) { c.metrics = metrics }
}

// WithSleep replaces the delay between fetches.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Crawler) { c.sleep = sleep }
}

// NewCrawler creates a crawler. The delay between fetches is taken from config.
func NewCrawler(f PageFetcher, walker *sitemap.Walker, p *pipeline.Pipeline, store database.ChunksDBHandlerFunctions, config model.CrawlConfig, logger *slog.Logger, opts ...Option) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Crawler{
		fetcher:  f,
		walker:   walker,
		pipeline: p,
		store:    store,
		delay:    config.Delay,
		sleep:    sleepContext,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsSitemapURL reports whether target looks like a sitemap: its path
// contains "sitemap" and ends in ".xml", ignoring case.
func IsSitemapURL(target string) bool {
	path := target
	if u, err := url.Parse(target); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.ToLower(path)
	return strings.Contains(path, "sitemap") && strings.HasSuffix(path, ".xml")
}

// CrawlAndIndex runs one pass over target. A budget of zero or less means unlimited.
// It never returns an error: every failure is folded into the result.
func (c *Crawler) CrawlAndIndex(ctx context.Context, target string, budget int) *model.CrawlResult {
	start := time.Now()
	result := &model.CrawlResult{
		RunID:  uuid.New(),
		Target: target,
	}

	mode := "page"
	if IsSitemapURL(target) {
		mode = "sitemap"
	}

	defer func() {
		result.Duration = time.Since(start)
		c.metrics.pass(mode, result.Duration.Seconds())
		c.logger.Info("Crawl pass finished", "run_id", result.RunID.String(), "target", target, "success", result.Success, "message", result.Message, "duration", result.Duration.String())
	}()

	if c.locker != nil {
		release, ok, err := c.locker.TryCrawlLock(ctx)
		if err != nil {
			result.Message = helper.NewError("crawl lock", err).Error()
			return result
		}
		if !ok {
			result.Message = MessageAlreadyRunning
			return result
		}
		defer release()
	}

	if !c.pipeline.Configured() {
		result.Message = MessageUnconfigured
		return result
	}

	c.logger.Info("Crawl pass started", "run_id", result.RunID.String(), "target", target, "mode", mode, "budget", budget)

	if mode == "sitemap" {
		c.crawlSitemap(ctx, target, budget, result)
	} else {
		c.crawlPage(ctx, target, result)
	}
	return result
}

func (c *Crawler) crawlPage(ctx context.Context, target string, result *model.CrawlResult) {
	result.Total = 1

	page, err := c.IndexPage(ctx, model.CandidateURL{URL: target})
	if err != nil {
		result.Failed = 1
		result.Message = err.Error()
		return
	}
	if page.Skipped {
		result.Skipped = 1
		result.Success = true
		result.Message = MessageAlreadyIndexed
		return
	}

	result.Indexed = 1
	result.Chunks = page.Chunks
	result.Success = true
	result.Message = fmt.Sprintf("Successfully indexed %d chunks from %s", page.Chunks, page.Document.Title)
}

func (c *Crawler) crawlSitemap(ctx context.Context, target string, budget int, result *model.CrawlResult) {
	candidates := c.walker.CollectCandidates(ctx, target)
	result.Total = len(candidates)
	c.metrics.candidates(len(candidates))

	if ctx.Err() != nil {
		result.Message = MessageCancelled
		return
	}
	if len(candidates) == 0 {
		result.Message = MessageNoURLs
		return
	}

	// Freshness first: newest lastmod first, undated entries last.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastModified.After(candidates[j].LastModified)
	})

	fetched := false
	pause := func(ctx context.Context) error {
		if fetched {
			if err := c.sleep(ctx, c.delay); err != nil {
				return err
			}
		}
		fetched = true
		return nil
	}

	embeddingFailures := 0
	for _, candidate := range candidates {
		if budget > 0 && result.Indexed >= budget {
			break
		}
		if ctx.Err() != nil {
			result.Message = MessageCancelled
			return
		}

		page, err := c.indexCandidate(ctx, candidate, pause)
		switch {
		case err == nil && page.Skipped:
			result.Skipped++
			continue
		case err == nil:
			embeddingFailures = 0
			result.Indexed++
			result.Chunks += page.Chunks
			continue
		case ctx.Err() != nil:
			result.Message = MessageCancelled
			return
		}

		result.Failed++
		c.logger.Warn("Error indexing page, continuing", "url", candidate.URL, "error", err)

		if errors.Is(err, pipeline.ErrUnconfigured) {
			result.Message = MessageUnconfigured
			return
		}
		if errors.Is(err, pipeline.ErrEmbeddingFailed) {
			embeddingFailures++
			if embeddingFailures >= maxEmbeddingFailures {
				c.logger.Error("Stopping pass, embedding provider keeps failing", "failures", embeddingFailures)
				result.Message = fmt.Sprintf("%s: %s", MessageEmbeddingDegraded, result.Summary())
				return
			}
		}
	}

	result.Success = true
	result.Message = result.Summary()
}

// IndexPage fetches, extracts, chunks, embeds and stores one page.
// A URL that already has chunks is skipped without being fetched.
func (c *Crawler) IndexPage(ctx context.Context, candidate model.CandidateURL) (*PageResult, error) {
	return c.indexCandidate(ctx, candidate, nil)
}

// indexCandidate calls pause, if set, between the existence check and the fetch.
func (c *Crawler) indexCandidate(ctx context.Context, candidate model.CandidateURL, pause func(context.Context) error) (*PageResult, error) {
	// Not atomic with the insert: a concurrent pass may index the same URL in
	// between. The crawl lock and the (url, chunk_index) key narrow this.
	exists, err := c.store.ExistsByURL(ctx, candidate.URL)
	if err != nil {
		c.metrics.page(statusFailed)
		return nil, helper.NewError("exists check", err)
	}
	if exists {
		c.metrics.page(statusSkipped)
		return &PageResult{Skipped: true}, nil
	}

	if pause != nil {
		if err := pause(ctx); err != nil {
			return nil, err
		}
	}

	doc, inserted, err := c.indexPage(ctx, candidate)
	if err != nil {
		c.metrics.page(statusFailed)
		return nil, err
	}
	c.metrics.page(statusIndexed)
	c.metrics.chunks(inserted)
	return &PageResult{Document: doc, Chunks: inserted}, nil
}

func (c *Crawler) indexPage(ctx context.Context, candidate model.CandidateURL) (*model.SourceDocument, int, error) {
	fetched, err := c.fetcher.Fetch(ctx, candidate.URL)
	if err != nil {
		return nil, 0, helper.NewError("fetch", err)
	}

	title, text, err := extractor.Extract(fetched.Body, candidate.URL)
	if err != nil {
		return nil, 0, helper.NewError("extract", err)
	}

	discoveredAt := candidate.LastModified
	if discoveredAt.IsZero() {
		discoveredAt = fetched.LastModified
	}
	doc := &model.SourceDocument{
		URL:          candidate.URL,
		Title:        title,
		Text:         text,
		DiscoveredAt: discoveredAt,
	}

	chunks, err := c.pipeline.Process(ctx, doc)
	if errors.Is(err, pipeline.ErrUnconfigured) || errors.Is(err, pipeline.ErrEmbeddingFailed) {
		return nil, 0, fmt.Errorf("%w: %w", ErrNoContent, err)
	}
	if err != nil {
		return nil, 0, helper.NewError("process", err)
	}
	if len(chunks) == 0 {
		return nil, 0, ErrNoContent
	}

	inserted, err := c.store.InsertChunks(ctx, chunks)
	if err != nil {
		return nil, 0, helper.NewError("store", err)
	}

	c.logger.Info("Indexed page", "url", doc.URL, "title", doc.Title, "chunks", inserted)

	return doc, inserted, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
