// Package embedder generates vector embeddings for text chunks and images
// through external embedding APIs.
package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// maxBatchSize is the largest input list the embeddings API accepts per call.
const maxBatchSize = 16

type TextConfig struct {
	Endpoint  string // optional OpenAI-compatible base URL
	APIKey    string
	Model     string
	RateLimit float64 // requests per second
	Dimension int
}

type TextEmbedder struct {
	config  TextConfig
	llm     *openai.LLM
	limiter *rate.Limiter
}

func NewTextEmbedder(config TextConfig) (*TextEmbedder, error) {
	if config.Model == "" {
		config.Model = "text-embedding-ada-002"
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.Dimension == 0 {
		config.Dimension = 1536
	}

	opts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.Model),
	}
	if config.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(config.Endpoint))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return &TextEmbedder{
		config:  config,
		llm:     llm,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Dimension returns the size of the vectors this embedder produces.
func (e *TextEmbedder) Dimension() int {
	return e.config.Dimension
}

// EmbedText generates an embedding for a single text.
func (e *TextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for texts, batching requests at the API
// limit and pacing them with the configured rate limit.
func (e *TextEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vectors, err := e.llm.CreateEmbedding(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding API returned %d vectors for %d texts", len(vectors), len(batch))
		}
		all = append(all, vectors...)

		slog.Debug("Embedded batch", "batch", i/maxBatchSize+1, "texts", len(batch))
	}

	slog.Info("Generated text embeddings", "count", len(all))
	return all, nil
}
