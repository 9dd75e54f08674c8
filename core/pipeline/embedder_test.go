package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tky-kevin/travelkb/model"
	"google.golang.org/genai"
)

func testGeminiConfig() model.EmbeddingConfig {
	config := model.DefaultEmbeddingConfig()
	config.APIKey = "test-key"
	config.Dimension = 3
	config.RequestsPerSecond = 0
	return config
}

func TestGeminiEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("Document intent sends the retrieval document framing", func(t *testing.T) {
		var gotModel string
		var gotConfig *genai.EmbedContentConfig
		embedder := newGeminiEmbedder(testGeminiConfig(), func(ctx context.Context, m string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			gotModel = m
			gotConfig = config
			return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2, 0.3}}}}, nil
		}, nil)

		embedding, err := embedder.Embed(ctx, "Tainan beef soup", IntentDocument)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, embedding)
		assert.Equal(t, "text-embedding-004", gotModel)
		assert.Equal(t, "RETRIEVAL_DOCUMENT", gotConfig.TaskType)
		assert.Equal(t, "Travel Article Chunk", gotConfig.Title)
	})

	t.Run("Query intent sends the retrieval query framing without title", func(t *testing.T) {
		var gotConfig *genai.EmbedContentConfig
		embedder := newGeminiEmbedder(testGeminiConfig(), func(ctx context.Context, m string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			gotConfig = config
			return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 0, 0}}}}, nil
		}, nil)

		_, err := embedder.Embed(ctx, "where to eat", IntentQuery)
		require.NoError(t, err)
		assert.Equal(t, "RETRIEVAL_QUERY", gotConfig.TaskType)
		assert.Empty(t, gotConfig.Title)
	})

	t.Run("Provider failure is a ProviderError", func(t *testing.T) {
		embedder := newGeminiEmbedder(testGeminiConfig(), func(ctx context.Context, m string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			return nil, errors.New("quota exceeded")
		}, nil)

		_, err := embedder.Embed(ctx, "text", IntentDocument)
		var providerErr *ProviderError
		require.True(t, errors.As(err, &providerErr))
		assert.Contains(t, providerErr.Error(), "quota exceeded")
	})

	t.Run("Wrong dimension is a ProviderError", func(t *testing.T) {
		embedder := newGeminiEmbedder(testGeminiConfig(), func(ctx context.Context, m string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 2}}}}, nil
		}, nil)

		_, err := embedder.Embed(ctx, "text", IntentDocument)
		var providerErr *ProviderError
		assert.True(t, errors.As(err, &providerErr))
	})

	t.Run("Empty response is a ProviderError", func(t *testing.T) {
		embedder := newGeminiEmbedder(testGeminiConfig(), func(ctx context.Context, m string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			return &genai.EmbedContentResponse{}, nil
		}, nil)

		_, err := embedder.Embed(ctx, "text", IntentQuery)
		var providerErr *ProviderError
		assert.True(t, errors.As(err, &providerErr))
	})

	t.Run("Each call carries its own timeout", func(t *testing.T) {
		config := testGeminiConfig()
		config.Timeout = 20 * time.Millisecond
		embedder := newGeminiEmbedder(config, func(ctx context.Context, m string, contents []*genai.Content, c *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)

		_, err := embedder.Embed(ctx, "text", IntentQuery)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("Gemini without credential degrades to disabled", func(t *testing.T) {
		embedder, err := NewEmbedder(ctx, model.DefaultEmbeddingConfig(), nil)
		require.NoError(t, err)
		assert.IsType(t, &DisabledEmbedder{}, embedder)
		assert.Equal(t, 768, embedder.Dimension())
	})

	t.Run("None provider is disabled", func(t *testing.T) {
		config := model.DefaultEmbeddingConfig()
		config.Provider = model.EmbeddingProviderNone

		embedder, err := NewEmbedder(ctx, config, nil)
		require.NoError(t, err)

		_, err = embedder.Embed(ctx, "text", IntentQuery)
		assert.ErrorIs(t, err, ErrUnconfigured)
	})

	t.Run("Unknown provider is an error", func(t *testing.T) {
		config := model.DefaultEmbeddingConfig()
		config.Provider = "word2vec"

		_, err := NewEmbedder(ctx, config, nil)
		assert.Error(t, err)
	})
}

func TestEmbedOrEmpty(t *testing.T) {
	ctx := context.Background()

	t.Run("Unconfigured provider yields an empty vector", func(t *testing.T) {
		assert.Empty(t, EmbedOrEmpty(ctx, NewDisabledEmbedder(3), "text", IntentQuery, nil))
	})

	t.Run("Provider failure yields an empty vector", func(t *testing.T) {
		failing := NewFuncEmbedder("failing", 3, func(ctx context.Context, text string, intent Intent) ([]float32, error) {
			return nil, &ProviderError{Provider: "failing", Err: errors.New("boom")}
		})
		assert.Empty(t, EmbedOrEmpty(ctx, failing, "text", IntentDocument, nil))
	})

	t.Run("Success passes the vector through", func(t *testing.T) {
		ok := NewFuncEmbedder("ok", 2, func(ctx context.Context, text string, intent Intent) ([]float32, error) {
			return []float32{1, 2}, nil
		})
		assert.Equal(t, []float32{1, 2}, EmbedOrEmpty(ctx, ok, "text", IntentDocument, nil))
	})
}

func TestHugotEmbedder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping HugotEmbedder test in short mode (requires model download)")
	}

	embedder, err := NewHugotEmbedder(DefaultHugotModel, "onnx/model.onnx")
	require.NoError(t, err)
	defer embedder.Close()

	t.Run("Generate embedding for text", func(t *testing.T) {
		embedding, err := embedder.Embed(context.Background(), "This is a test sentence.", IntentDocument)
		require.NoError(t, err)
		assert.Equal(t, 384, len(embedding), "all-MiniLM-L6-v2 produces 384-dimensional embeddings")
	})

	t.Run("Dimension matches the embeddings of the loaded model", func(t *testing.T) {
		embedding, err := embedder.Embed(context.Background(), "Hualien gorge trail", IntentQuery)
		require.NoError(t, err)
		assert.Equal(t, len(embedding), embedder.Dimension())
	})

	t.Run("Query and document intent share one vector space", func(t *testing.T) {
		doc, err := embedder.Embed(context.Background(), "Deterministic embedding test", IntentDocument)
		require.NoError(t, err)
		query, err := embedder.Embed(context.Background(), "Deterministic embedding test", IntentQuery)
		require.NoError(t, err)
		assert.Equal(t, doc, query)
	})
}
