package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tky-kevin/travelkb/model"
)

// Intent selects the provider request framing. Both intents map into the same vector space.
type Intent string

const (
	IntentDocument Intent = "document"
	IntentQuery    Intent = "query"
)

var (
	// ErrUnconfigured is returned by embedders that have no credential.
	ErrUnconfigured = errors.New("embedding provider not configured")
	// ErrEmbeddingFailed is returned by Process when no chunk of a document could be embedded.
	ErrEmbeddingFailed = errors.New("embedding failed for every chunk")
)

// ProviderError is a failed call to a configured embedding provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TextChunk is one window of extracted text. Offsets are in runes.
type TextChunk struct {
	Content  string
	Index    int
	StartPos int
	EndPos   int
}

// ChunkFunc is a function that splits text into chunks
type ChunkFunc func(text string) ([]TextChunk, error)

// EmbedFunc is a function that generates an embedding for text
type EmbedFunc func(ctx context.Context, text string, intent Intent) ([]float32, error)

// Embedder turns text into a fixed-length vector.
// Embed returns ErrUnconfigured or a *ProviderError instead of an empty vector.
type Embedder interface {
	Embed(ctx context.Context, text string, intent Intent) ([]float32, error)
	Dimension() int
	Name() string
}

type funcEmbedder struct {
	name      string
	dimension int
	fn        EmbedFunc
}

// NewFuncEmbedder adapts an EmbedFunc to the Embedder interface.
func NewFuncEmbedder(name string, dimension int, fn EmbedFunc) Embedder {
	return &funcEmbedder{name: name, dimension: dimension, fn: fn}
}

func (e *funcEmbedder) Embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	return e.fn(ctx, text, intent)
}

func (e *funcEmbedder) Dimension() int { return e.dimension }

func (e *funcEmbedder) Name() string { return e.name }

// EmbedOrEmpty collapses every embedding failure into an empty vector and a log line.
// Callers treat an empty result as "skip this item".
func EmbedOrEmpty(ctx context.Context, embedder Embedder, text string, intent Intent, logger *slog.Logger) []float32 {
	embedding, _ := embed(ctx, embedder, text, intent, logger)
	return embedding
}

func embed(ctx context.Context, embedder Embedder, text string, intent Intent, logger *slog.Logger) ([]float32, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embedding, err := embedder.Embed(ctx, text, intent)
	switch {
	case errors.Is(err, ErrUnconfigured):
		logger.Debug("Embedding skipped, provider not configured", "provider", embedder.Name())
		return nil, err
	case err != nil:
		logger.Warn("Embedding failed", "provider", embedder.Name(), "intent", string(intent), "error", err)
		return nil, err
	case len(embedding) == 0:
		return nil, &ProviderError{Provider: embedder.Name(), Err: errors.New("empty embedding")}
	}
	return embedding, nil
}

// Pipeline combines chunking and embedding functions
type Pipeline struct {
	Chunker  ChunkFunc
	Embedder Embedder
	logger   *slog.Logger
}

// NewPipeline creates a new processing pipeline
func NewPipeline(chunker ChunkFunc, embedder Embedder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Chunker:  chunker,
		Embedder: embedder,
		logger:   logger,
	}
}

// Configured reports whether the embedder can produce vectors at all.
func (p *Pipeline) Configured() bool {
	return p.Embedder != nil && p.Embedder.Name() != model.EmbeddingProviderNone
}

// Process chunks the document text and embeds every chunk with document intent.
// Chunks whose embedding failed are dropped, so every returned chunk is storable.
// When chunks exist but none could be embedded it returns ErrUnconfigured or
// an error wrapping ErrEmbeddingFailed and the last provider error.
func (p *Pipeline) Process(ctx context.Context, doc *model.SourceDocument) ([]*model.Chunk, error) {
	if p.Chunker == nil || p.Embedder == nil {
		return nil, fmt.Errorf("pipeline needs a chunker and an embedder")
	}

	textChunks, err := p.Chunker(doc.Text)
	if err != nil {
		return nil, err
	}

	chunks := make([]*model.Chunk, 0, len(textChunks))
	var lastErr error
	for _, tc := range textChunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		embedding, err := embed(ctx, p.Embedder, tc.Content, IntentDocument, p.logger)
		if err != nil {
			lastErr = err
			continue
		}

		metadata := model.Metadata{
			"start_pos":       tc.StartPos,
			"end_pos":         tc.EndPos,
			"embedding_model": p.Embedder.Name(),
		}
		if !doc.DiscoveredAt.IsZero() {
			metadata["lastmod"] = doc.DiscoveredAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}

		chunks = append(chunks, &model.Chunk{
			URL:        doc.URL,
			Title:      doc.Title,
			Content:    tc.Content,
			ChunkIndex: tc.Index,
			Embedding:  embedding,
			Metadata:   metadata,
		})
	}

	if dropped := len(textChunks) - len(chunks); dropped > 0 {
		p.logger.Debug("Dropped chunks without embedding", "url", doc.URL, "dropped", dropped, "total", len(textChunks))
	}

	if len(chunks) == 0 && lastErr != nil {
		if errors.Is(lastErr, ErrUnconfigured) {
			return nil, ErrUnconfigured
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, lastErr)
	}

	return chunks, nil
}
