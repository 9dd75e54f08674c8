package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tky-kevin/travelkb/model"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Gemini task types per intent.
const (
	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"
)

type embedContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)

// GeminiEmbedder calls the Gemini embedding API. Calls are rate limited
// and each one carries its own timeout.
type GeminiEmbedder struct {
	model         string
	dimension     int
	timeout       time.Duration
	documentTitle string
	limiter       *rate.Limiter
	embed         embedContentFunc
	logger        *slog.Logger
}

// NewGeminiEmbedder creates the Gemini client once; the embedder is then shared
// by the crawler and the retrieval engine.
func NewGeminiEmbedder(ctx context.Context, config model.EmbeddingConfig, logger *slog.Logger) (*GeminiEmbedder, error) {
	if config.APIKey == "" {
		return nil, ErrUnconfigured
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newGeminiEmbedder(config, client.Models.EmbedContent, logger), nil
}

func newGeminiEmbedder(config model.EmbeddingConfig, embed embedContentFunc, logger *slog.Logger) *GeminiEmbedder {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &GeminiEmbedder{
		model:         config.Model,
		dimension:     config.Dimension,
		timeout:       config.Timeout,
		documentTitle: config.DocumentTitle,
		limiter:       rate.NewLimiter(limit, 1),
		embed:         embed,
		logger:        logger,
	}
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Provider: e.Name(), Err: err}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	config := &genai.EmbedContentConfig{TaskType: taskTypeQuery}
	if intent == IntentDocument {
		config.TaskType = taskTypeDocument
		config.Title = e.documentTitle
	}

	resp, err := e.embed(ctx, e.model, genai.Text(text), config)
	if err != nil {
		return nil, &ProviderError{Provider: e.Name(), Err: err}
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, &ProviderError{Provider: e.Name(), Err: fmt.Errorf("empty embedding in response")}
	}

	values := resp.Embeddings[0].Values
	if e.dimension > 0 && len(values) != e.dimension {
		return nil, &ProviderError{Provider: e.Name(), Err: fmt.Errorf("got %d dimensions, want %d", len(values), e.dimension)}
	}

	return values, nil
}

func (e *GeminiEmbedder) Dimension() int { return e.dimension }

func (e *GeminiEmbedder) Name() string { return model.EmbeddingProviderGemini + ":" + e.model }
