package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.OpenAI.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "openai.api_key",
			Message: "OpenAI API key is required",
		})
	}

	if c.OpenAI.Endpoint != "" {
		if _, err := url.Parse(c.OpenAI.Endpoint); err != nil {
			errors = append(errors, ValidationError{
				Field:   "openai.endpoint",
				Message: "invalid OpenAI endpoint URL",
			})
		}
	}

	if c.OpenAI.MaxTokens < 1 || c.OpenAI.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "openai.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "openai.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Database.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "PostgreSQL connection string is required",
		})
	} else if _, err := url.Parse(c.Database.URL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "invalid database URL",
		})
	}

	if c.Database.TextVectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.text_vector_dim",
			Message: "text_vector_dim must be positive",
		})
	}

	if c.Database.ImageVectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.image_vector_dim",
			Message: "image_vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.RAG.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "rag.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.RAG.TopK < 1 || c.RAG.TopK > 20 {
		errors = append(errors, ValidationError{
			Field:   "rag.top_k",
			Message: "top_k must be between 1 and 20",
		})
	}

	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.similarity_threshold",
			Message: "similarity_threshold must be between 0 and 1",
		})
	}

	if c.RAG.EmbedRateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "rag.embed_rate_limit",
			Message: "embed_rate_limit must be positive",
		})
	}

	return errors
}
