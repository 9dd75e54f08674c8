package travelkb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tky-kevin/travelkb/core/crawler"
	"github.com/tky-kevin/travelkb/core/fetcher"
	"github.com/tky-kevin/travelkb/core/pipeline"
	"github.com/tky-kevin/travelkb/core/retrieval"
	"github.com/tky-kevin/travelkb/core/scheduler"
	"github.com/tky-kevin/travelkb/core/sitemap"
	"github.com/tky-kevin/travelkb/database"
	"github.com/tky-kevin/travelkb/database/memory"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
)

// KnowledgeBase wires fetcher, extractor, chunker, embedder, store and retriever once
// and exposes the crawl and retrieval surfaces.
type KnowledgeBase struct {
	Config   *Config
	DB       *helper.Database // nil for the memory store
	Chunks   database.ChunksDBHandlerFunctions
	Embedder pipeline.Embedder
	Pipeline *pipeline.Pipeline
	Crawler  *crawler.Crawler
	Engine   *retrieval.Engine
	Metrics  *crawler.Metrics
	// Logging
	log *slog.Logger
}

// Option customises NewKnowledgeBase.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	embedder   pipeline.Embedder
	store      database.ChunksDBHandlerFunctions
	httpClient *http.Client
}

// WithLogger sets the logger. The default is a PrettyHandler on stdout at the configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers crawler metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(embedder pipeline.Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}

// WithStore replaces the configured knowledge store.
func WithStore(store database.ChunksDBHandlerFunctions) Option {
	return func(o *options) { o.store = store }
}

// WithHTTPClient sets the client used for pages and sitemaps.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// NewKnowledgeBase creates a knowledge base from config.
// A missing embedding credential is not an error: the knowledge base runs degraded,
// indexing nothing and retrieving nothing, and says so once at WARN.
func NewKnowledgeBase(ctx context.Context, config *Config, opts ...Option) (*KnowledgeBase, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("validate config", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = helper.NewLogger(os.Stdout, helper.ParseLogLevel(config.LogLevel))
	}

	kb := &KnowledgeBase{
		Config: config,
		log:    logger,
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		embedder, err = pipeline.NewEmbedder(ctx, config.Embedding, logger)
		if err != nil {
			return nil, helper.NewError("create embedder", err)
		}
	}
	kb.Embedder = embedder

	if embedder.Name() == model.EmbeddingProviderNone {
		logger.Warn("No embedding credential configured, running degraded: nothing will be indexed or retrieved",
			"provider", config.Embedding.Provider)
	}

	store := o.store
	if store == nil {
		var err error
		store, err = kb.openStore(embedder.Dimension())
		if err != nil {
			kb.Close()
			return nil, err
		}
	}
	kb.Chunks = store

	kb.Pipeline = pipeline.NewPipeline(
		pipeline.SlidingWindowChunker(config.Crawl.ChunkSize, config.Crawl.ChunkOverlap, config.Crawl.MinChunkSize),
		embedder,
		logger,
	)

	f := fetcher.NewFetcher(o.httpClient, config.Crawl.FetchTimeout, config.Crawl.UserAgent, config.Crawl.MaxContentSize)

	crawlerOpts := []crawler.Option{}
	if locker, ok := store.(crawler.CrawlLocker); ok {
		crawlerOpts = append(crawlerOpts, crawler.WithLocker(locker))
	}
	if o.registerer != nil {
		kb.Metrics = crawler.NewMetrics(o.registerer)
		crawlerOpts = append(crawlerOpts, crawler.WithMetrics(kb.Metrics))
	}

	kb.Crawler = crawler.NewCrawler(f, sitemap.NewWalker(f, config.Crawl, logger), kb.Pipeline, store, config.Crawl, logger, crawlerOpts...)
	kb.Engine = retrieval.NewEngine(store, embedder, logger)

	logger.Info("Knowledge base ready", "store", config.Store, "embedder", embedder.Name(), "dimension", embedder.Dimension())

	return kb, nil
}

func (kb *KnowledgeBase) openStore(dimension int) (database.ChunksDBHandlerFunctions, error) {
	if kb.Config.Store == StoreMemory {
		return memory.NewChunksHandler(dimension), nil
	}

	dbConfig := kb.Config.Database
	if err := dbConfig.Validate(); err != nil {
		return nil, err
	}

	db, err := helper.NewDatabase("travelkb", &dbConfig, kb.log)
	if err != nil {
		return nil, helper.NewError("connect database", err)
	}
	kb.DB = db

	chunks, err := database.NewChunksDBHandler(db, dimension, false)
	if err != nil {
		return nil, helper.NewError("create chunks handler", err)
	}
	return chunks, nil
}

// Close releases the database connection and a local embedding session.
func (kb *KnowledgeBase) Close() error {
	if closer, ok := kb.Embedder.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			kb.log.Warn("Error closing embedder", "error", err)
		}
	}
	if kb.DB != nil {
		return kb.DB.Close()
	}
	return nil
}

// CrawlAndIndex indexes url, a single article or a sitemap, adding at most budget new
// articles (budget <= 0 means unlimited). Passes are serialized by the crawl lock.
func (kb *KnowledgeBase) CrawlAndIndex(ctx context.Context, url string, budget int) *model.CrawlResult {
	return kb.Crawler.CrawlAndIndex(ctx, url, budget)
}

// Retrieve returns the k chunks most similar to query. k <= 0 uses the configured top_k.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string, k int) ([]*model.SearchResult, error) {
	config := kb.Config.Query
	if k > 0 {
		config.TopK = k
	}
	return kb.Engine.Retrieve(ctx, query, config)
}

// Clean deletes every stored chunk.
func (kb *KnowledgeBase) Clean(ctx context.Context) (int64, error) {
	deleted, err := kb.Chunks.DeleteAllChunks(ctx)
	if err != nil {
		return 0, helper.NewError("clean knowledge base", err)
	}
	return deleted, nil
}

// Count returns the number of stored chunks.
func (kb *KnowledgeBase) Count(ctx context.Context) (int64, error) {
	return kb.Chunks.CountChunks(ctx)
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat.
func (kb *KnowledgeBase) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	chunks, ok := kb.Chunks.(*database.ChunksDBHandler)
	if !ok {
		return helper.NewError("change index type", fmt.Errorf("store %q has no vector index", kb.Config.Store))
	}
	return chunks.ChangeIndexType(ctx, indexType, params)
}

// NewScheduler returns a scheduler crawling the configured scheduled target every interval.
func (kb *KnowledgeBase) NewScheduler() (*scheduler.Scheduler, error) {
	return scheduler.NewScheduler(
		kb.CrawlAndIndex,
		kb.Config.Crawl.ScheduledTarget,
		kb.Config.Crawl.MaxNewArticles,
		kb.Config.Crawl.Interval,
		kb.log,
	)
}
