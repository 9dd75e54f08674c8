package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tky-kevin/travelkb/model"
)

func constantEmbedder() Embedder {
	return NewFuncEmbedder("constant", 2, func(ctx context.Context, text string, intent Intent) ([]float32, error) {
		return []float32{0.5, 0.5}, nil
	})
}

func TestPipelineProcess(t *testing.T) {
	ctx := context.Background()
	doc := &model.SourceDocument{
		URL:          "https://bunnyann.tw/kaohsiung",
		Title:        "Kaohsiung",
		Text:         strings.Repeat("k", 3000),
		DiscoveredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("Process text successfully", func(t *testing.T) {
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), constantEmbedder(), nil)

		chunks, err := p.Process(ctx, doc)
		require.NoError(t, err)
		require.Len(t, chunks, 3)

		for i, c := range chunks {
			assert.Equal(t, doc.URL, c.URL)
			assert.Equal(t, doc.Title, c.Title)
			assert.Equal(t, i, c.ChunkIndex)
			assert.True(t, c.HasEmbedding())
			assert.Equal(t, "constant", c.Metadata["embedding_model"])
			assert.Equal(t, "2024-03-01T00:00:00Z", c.Metadata["lastmod"])
		}
	})

	t.Run("Chunks whose embedding failed are dropped", func(t *testing.T) {
		calls := 0
		flaky := NewFuncEmbedder("flaky", 2, func(ctx context.Context, text string, intent Intent) ([]float32, error) {
			calls++
			if calls == 2 {
				return nil, &ProviderError{Provider: "flaky", Err: errors.New("timeout")}
			}
			return []float32{1, 0}, nil
		})
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), flaky, nil)

		chunks, err := p.Process(ctx, doc)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, 0, chunks[0].ChunkIndex)
		assert.Equal(t, 2, chunks[1].ChunkIndex)
	})

	t.Run("Unconfigured embedder is reported", func(t *testing.T) {
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), NewDisabledEmbedder(2), nil)

		chunks, err := p.Process(ctx, doc)
		assert.ErrorIs(t, err, ErrUnconfigured)
		assert.Empty(t, chunks)
	})

	t.Run("Every embedding failing is an embedding failure", func(t *testing.T) {
		failing := NewFuncEmbedder("failing", 2, func(ctx context.Context, text string, intent Intent) ([]float32, error) {
			return nil, &ProviderError{Provider: "failing", Err: errors.New("quota exceeded")}
		})
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), failing, nil)

		chunks, err := p.Process(ctx, doc)
		assert.ErrorIs(t, err, ErrEmbeddingFailed)
		assert.Contains(t, err.Error(), "quota exceeded")
		assert.Empty(t, chunks)
	})

	t.Run("Text too short to chunk is not a failure", func(t *testing.T) {
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), NewDisabledEmbedder(2), nil)

		chunks, err := p.Process(ctx, &model.SourceDocument{URL: doc.URL, Text: "short"})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Chunker error is returned", func(t *testing.T) {
		p := NewPipeline(SlidingWindowChunker(0, 0, 0), constantEmbedder(), nil)

		_, err := p.Process(ctx, doc)
		assert.ErrorIs(t, err, ErrInvalidChunkConfig)
	})

	t.Run("Cancelled context stops processing", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), constantEmbedder(), nil)

		_, err := p.Process(cancelled, doc)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Pipeline with nil functions fails", func(t *testing.T) {
		_, err := NewPipeline(nil, nil, nil).Process(ctx, doc)
		assert.Error(t, err)
	})
}

func TestPipelineConfigured(t *testing.T) {
	t.Run("Disabled embedder is not configured", func(t *testing.T) {
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), NewDisabledEmbedder(2), nil)
		assert.False(t, p.Configured())
	})

	t.Run("Working embedder is configured", func(t *testing.T) {
		p := NewPipeline(SlidingWindowChunker(1500, 200, 100), constantEmbedder(), nil)
		assert.True(t, p.Configured())
	})

	t.Run("Missing embedder is not configured", func(t *testing.T) {
		assert.False(t, NewPipeline(nil, nil, nil).Configured())
	})
}
