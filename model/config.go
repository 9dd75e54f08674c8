package model

import (
	"fmt"
	"time"
)

// QueryConfig represents configuration for a retrieval query
type QueryConfig struct {
	TopK int `json:"top_k" yaml:"top_k"`
	// CandidateMultiplier sizes the pool scanned by the vector index before truncating to TopK.
	CandidateMultiplier int `json:"candidate_multiplier" yaml:"candidate_multiplier"`
	// SimilarityThreshold drops matches below this cosine similarity. Zero disables it.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" yaml:"similarity_threshold"`
}

// DefaultQueryConfig returns the retrieval defaults used by the assistant.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		TopK:                5,
		CandidateMultiplier: 10,
		SimilarityThreshold: 0,
	}
}

// NumCandidates returns the size of the candidate pool for the configured TopK.
func (c QueryConfig) NumCandidates() int {
	multiplier := c.CandidateMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return c.TopK * multiplier
}

// CrawlConfig controls fetching, sitemap traversal and chunking.
type CrawlConfig struct {
	TargetURL       string        `yaml:"target_url"`
	ScheduledTarget string        `yaml:"scheduled_target"`
	MaxNewArticles  int           `yaml:"max_new_articles"`
	UserAgent       string        `yaml:"user_agent"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	MaxContentSize  int64         `yaml:"max_content_size"`
	Delay           time.Duration `yaml:"delay"`
	Interval        time.Duration `yaml:"interval"`
	SitemapMarker   string        `yaml:"sitemap_marker"`
	DomainMarker    string        `yaml:"domain_marker"`
	MaxSitemapDepth int           `yaml:"max_sitemap_depth"`
	ChunkSize       int           `yaml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap"`
	MinChunkSize    int           `yaml:"min_chunk_size"`
}

// DefaultCrawlConfig returns the crawl defaults for the travel blog knowledge base.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		TargetURL:       "https://bunnyann.tw/sitemap.xml",
		ScheduledTarget: "https://bunnyann.tw/post-sitemap.xml",
		MaxNewArticles:  10,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		FetchTimeout:    10 * time.Second,
		MaxContentSize:  10 << 20,
		Delay:           time.Second,
		Interval:        24 * time.Hour,
		SitemapMarker:   "post-sitemap",
		DomainMarker:    "bunnyann.tw",
		MaxSitemapDepth: 5,
		ChunkSize:       1500,
		ChunkOverlap:    200,
		MinChunkSize:    100,
	}
}

// Validate rejects configurations the crawler cannot run with.
func (c CrawlConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	if c.MaxSitemapDepth < 0 {
		return fmt.Errorf("max_sitemap_depth must not be negative")
	}
	return nil
}

// Embedding providers.
const (
	EmbeddingProviderGemini = "gemini"
	EmbeddingProviderHugot  = "hugot"
	EmbeddingProviderNone   = "none"
)

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"-"`
	Model             string        `yaml:"model"`
	Dimension         int           `yaml:"dimension"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	DocumentTitle     string        `yaml:"document_title"`
	OnnxFilePath      string        `yaml:"onnx_file_path"`
}

// DefaultEmbeddingConfig returns the Gemini text-embedding-004 defaults (768 dimensions).
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:          EmbeddingProviderGemini,
		Model:             "text-embedding-004",
		Dimension:         768,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		DocumentTitle:     "Travel Article Chunk",
		OnnxFilePath:      "onnx/model.onnx",
	}
}
