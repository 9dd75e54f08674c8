package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	UnknownSourceTitle = "Unknown Source"
	UnknownSourceURL   = "#"
)

// SearchResult is a chunk returned for a query, with its provenance for citation.
type SearchResult struct {
	Content string  `json:"content"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Score   float64 `json:"score"`
}

// NewSearchResult maps a matched chunk to a result, filling missing provenance with sentinels.
func NewSearchResult(chunk *Chunk) *SearchResult {
	result := &SearchResult{
		Content: chunk.Content,
		Title:   chunk.Title,
		URL:     chunk.URL,
		Score:   chunk.Similarity,
	}
	if result.Title == "" {
		result.Title = UnknownSourceTitle
	}
	if result.URL == "" {
		result.URL = UnknownSourceURL
	}
	return result
}

// CrawlResult summarises one crawl pass.
type CrawlResult struct {
	RunID    uuid.UUID     `json:"run_id"`
	Target   string        `json:"target"`
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Total    int           `json:"total"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
}

// Summary returns the counters as a single human readable line.
func (r *CrawlResult) Summary() string {
	return fmt.Sprintf("indexed %d, skipped %d, failed %d of %d candidates (%d chunks)", r.Indexed, r.Skipped, r.Failed, r.Total, r.Chunks)
}
