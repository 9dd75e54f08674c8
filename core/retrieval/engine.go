package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tky-kevin/travelkb/core/pipeline"
	"github.com/tky-kevin/travelkb/database"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
)

// Engine answers similarity queries against the knowledge store
type Engine struct {
	store    database.ChunksDBHandlerFunctions
	embedder pipeline.Embedder
	logger   *slog.Logger
}

// NewEngine creates a new retrieval engine
func NewEngine(store database.ChunksDBHandlerFunctions, embedder pipeline.Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		logger:   logger,
	}
}

// Retrieve embeds query with query intent and returns the best matching chunks.
// When the query cannot be embedded the result is empty and the error nil, so callers
// answer without grounding. Storage errors are returned.
func (e *Engine) Retrieve(ctx context.Context, query string, config model.QueryConfig) ([]*model.SearchResult, error) {
	if strings.TrimSpace(query) == "" || config.TopK <= 0 {
		return []*model.SearchResult{}, nil
	}

	embedding := pipeline.EmbedOrEmpty(ctx, e.embedder, query, pipeline.IntentQuery, e.logger)
	if len(embedding) == 0 {
		e.logger.Debug("Query not embedded, returning no context", "query", query)
		return []*model.SearchResult{}, nil
	}

	chunks, err := e.Similarity(ctx, embedding, config)
	if err != nil {
		return nil, err
	}

	results := make([]*model.SearchResult, len(chunks))
	for i, chunk := range chunks {
		results[i] = model.NewSearchResult(chunk)
	}

	return results, nil
}

// Similarity performs pure vector similarity search.
// Matches below the configured similarity threshold are dropped.
func (e *Engine) Similarity(ctx context.Context, embedding []float32, config model.QueryConfig) ([]*model.Chunk, error) {
	chunks, err := e.store.SelectChunksBySimilarity(ctx, embedding, config.TopK, config.NumCandidates())
	if err != nil {
		return nil, helper.NewError("similarity search", err)
	}

	if config.SimilarityThreshold <= 0 {
		return chunks, nil
	}

	kept := chunks[:0]
	for _, chunk := range chunks {
		if chunk.Similarity >= config.SimilarityThreshold {
			kept = append(kept, chunk)
		}
	}
	return kept, nil
}
