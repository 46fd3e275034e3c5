package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	visionAPIVersion   = "2024-02-01"
	visionModelVersion = "2023-04-15"
)

type VisionConfig struct {
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	Dimension int
}

// VisionEmbedder is a minimal REST client for an AI Vision image retrieval
// endpoint. Its vectorizeText output lives in the same vector space as the
// image embeddings, which is what makes text-to-image search work.
type VisionEmbedder struct {
	config VisionConfig
	client *http.Client
}

func NewVisionEmbedder(config VisionConfig) *VisionEmbedder {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Dimension == 0 {
		config.Dimension = 1024
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	return &VisionEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Dimension returns the size of the vectors this embedder produces.
func (e *VisionEmbedder) Dimension() int {
	return e.config.Dimension
}

// EmbedImage generates an embedding for a single image.
func (e *VisionEmbedder) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	url := fmt.Sprintf("%s/computervision/retrieval:vectorizeImage?api-version=%s&model-version=%s",
		e.config.Endpoint, visionAPIVersion, visionModelVersion)

	return e.vectorize(ctx, url, "application/octet-stream", bytes.NewReader(imageData))
}

// EmbedTextForImageSearch generates a text embedding in the image vector
// space so that text queries can match against image embeddings.
func (e *VisionEmbedder) EmbedTextForImageSearch(ctx context.Context, text string) ([]float32, error) {
	url := fmt.Sprintf("%s/computervision/retrieval:vectorizeText?api-version=%s&model-version=%s",
		e.config.Endpoint, visionAPIVersion, visionModelVersion)

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	return e.vectorize(ctx, url, "application/json", bytes.NewReader(payload))
}

// EmbedImageBatch generates embeddings for multiple images sequentially.
// A failed image yields a zero vector rather than aborting the batch.
func (e *VisionEmbedder) EmbedImageBatch(ctx context.Context, images [][]byte) ([][]float32, error) {
	vectors := make([][]float32, 0, len(images))
	for idx, imageData := range images {
		vector, err := e.EmbedImage(ctx, imageData)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Failed to embed image", "index", idx, "error", err)
			vector = make([]float32, e.config.Dimension)
		}
		vectors = append(vectors, vector)
	}

	slog.Info("Generated image embeddings", "count", len(vectors))
	return vectors, nil
}

func (e *VisionEmbedder) vectorize(ctx context.Context, url, contentType string, body io.Reader) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", e.config.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("vision API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode vision response: %w", err)
	}
	if len(result.Vector) == 0 {
		return nil, fmt.Errorf("vision API returned an empty vector")
	}

	return result.Vector, nil
}
