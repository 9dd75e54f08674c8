package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
)

// DefaultHugotModel produces 384-dimensional embeddings.
const DefaultHugotModel = "sentence-transformers/all-MiniLM-L6-v2"

// NewEmbedder builds the embedder selected by config.
// A Gemini provider without credential degrades to a DisabledEmbedder instead of failing.
func NewEmbedder(ctx context.Context, config model.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	switch config.Provider {
	case model.EmbeddingProviderGemini, "":
		if config.APIKey == "" {
			return NewDisabledEmbedder(config.Dimension), nil
		}
		return NewGeminiEmbedder(ctx, config, logger)
	case model.EmbeddingProviderHugot:
		return NewHugotEmbedder(config.Model, config.OnnxFilePath)
	case model.EmbeddingProviderNone:
		return NewDisabledEmbedder(config.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}
}

// DisabledEmbedder always reports ErrUnconfigured.
type DisabledEmbedder struct {
	dimension int
}

// NewDisabledEmbedder creates an embedder for running without credential.
func NewDisabledEmbedder(dimension int) *DisabledEmbedder {
	return &DisabledEmbedder{dimension: dimension}
}

func (e *DisabledEmbedder) Embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	return nil, ErrUnconfigured
}

func (e *DisabledEmbedder) Dimension() int { return e.dimension }

func (e *DisabledEmbedder) Name() string { return model.EmbeddingProviderNone }

// HugotEmbedder runs a local sentence transformer with the pure Go backend.
type HugotEmbedder struct {
	mu        sync.Mutex
	modelName string
	dimension int
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
}

// NewHugotEmbedder downloads the model if needed and starts a hugot session.
// The dimension is read from one embedding of the loaded model.
// Intent is ignored: the sentence transformer has a single framing.
func NewHugotEmbedder(modelName string, onnxFilePath string) (*HugotEmbedder, error) {
	if modelName == "" || modelName == model.DefaultEmbeddingConfig().Model {
		modelName = DefaultHugotModel
	}

	modelPath, err := helper.PrepareModel(modelName, onnxFilePath)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "travelkb-embedder",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	dimension, err := embeddingDimension(sentencePipeline)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("%w (cleanup error: %v)", err, destroyErr)
		}
		return nil, err
	}

	return &HugotEmbedder{
		modelName: modelName,
		dimension: dimension,
		session:   session,
		pipeline:  sentencePipeline,
	}, nil
}

func embeddingDimension(p *pipelines.FeatureExtractionPipeline) (int, error) {
	result, err := p.RunPipeline([]string{"travelkb"})
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return 0, fmt.Errorf("failed to read embedding dimension: model produced no embedding")
	}
	return len(result.Embeddings[0]), nil
}

func (e *HugotEmbedder) Embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: e.Name(), Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, &ProviderError{Provider: e.Name(), Err: fmt.Errorf("failed to generate embedding: %w", err)}
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, &ProviderError{Provider: e.Name(), Err: fmt.Errorf("no embedding generated")}
	}

	return result.Embeddings[0], nil
}

func (e *HugotEmbedder) Dimension() int { return e.dimension }

func (e *HugotEmbedder) Name() string { return model.EmbeddingProviderHugot + ":" + e.modelName }

// Close destroys the hugot session.
func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Destroy()
}
