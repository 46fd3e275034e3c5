// Package types defines the JSON request and response shapes of the HTTP API.
package types

// QueryRequest asks a question about ingested documents.
type QueryRequest struct {
	Query         string `json:"query"`
	TopK          int    `json:"top_k,omitempty"`
	IncludeImages *bool  `json:"include_images,omitempty"`
}

// Citation points at a location in a source document that backs the answer.
type Citation struct {
	Page        int    `json:"page"`
	Source      string `json:"source"`
	Section     string `json:"section,omitempty"`
	ContentType string `json:"content_type"`
}

// TokenUsage reports model token consumption when the provider exposes it.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Answer is the response body for a query.
type Answer struct {
	Answer                string      `json:"answer"`
	Citations             []Citation  `json:"citations"`
	ChunksUsed            int         `json:"chunks_used"`
	ImagesUsed            int         `json:"images_used"`
	Model                 string      `json:"model,omitempty"`
	TokensUsed            *TokenUsage `json:"tokens_used,omitempty"`
	ProcessingTimeSeconds float64     `json:"processing_time_seconds"`
}

// IngestResponse summarizes a completed ingestion.
type IngestResponse struct {
	DocumentID            string  `json:"document_id"`
	Filename              string  `json:"filename"`
	PagesProcessed        int     `json:"pages_processed"`
	TextChunks            int     `json:"text_chunks"`
	ImagesIndexed         int     `json:"images_indexed"`
	TotalDocumentsIndexed int     `json:"total_documents_indexed"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// DocumentInfo is one entry in the document listing.
type DocumentInfo struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Pages      int    `json:"pages"`
	TextChunks int    `json:"text_chunks"`
	Images     int    `json:"images"`
	CreatedAt  string `json:"created_at"`
}

// ErrorResponse carries an error message back to the client.
type ErrorResponse struct {
	Error string `json:"error"`
}
