package generator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvault/bankrag/internal/models"
	"github.com/finvault/bankrag/pkg/generator"
)

// fakeChatServer answers every chat completion request with a fixed
// assistant message and records the last request body.
func fakeChatServer(t *testing.T, answer string, lastBody *map[string]any) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "unexpected path %s", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if lastBody != nil {
			require.NoError(t, json.Unmarshal(body, lastBody))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160}
		}`, answer)
	}))
}

func newTestGenerator(t *testing.T, endpoint string) *generator.Generator {
	t.Helper()

	gen, err := generator.NewWithConfig(generator.Config{
		Endpoint: endpoint,
		APIKey:   "test-key",
		Model:    "gpt-4o",
	})
	require.NoError(t, err)
	return gen
}

func TestGenerateExtractsCitations(t *testing.T) {
	answer := "Net interest income rose 12% [Page 3]. Expenses were flat [Page 7]. See also [Page 3]."

	var body map[string]any
	server := fakeChatServer(t, answer, &body)
	defer server.Close()

	gen := newTestGenerator(t, server.URL)

	chunks := []models.RetrievedChunk{
		{ID: "a", Content: "NII rose 12%", ContentType: "text", PageNumber: 3,
			SourceDocument: "annual.pdf", SectionTitle: "Income Statement", Score: 0.9},
		{ID: "b", Content: "Expenses flat", ContentType: "text", PageNumber: 7,
			SourceDocument: "annual.pdf", Score: 0.8},
	}

	result, err := gen.Generate(context.Background(), "How did income develop?", chunks)
	require.NoError(t, err)

	assert.Equal(t, answer, result.Answer)
	require.Len(t, result.Citations, 2, "duplicate page references collapse into one citation")
	assert.Equal(t, 3, result.Citations[0].Page)
	assert.Equal(t, "annual.pdf", result.Citations[0].Source)
	assert.Equal(t, "Income Statement", result.Citations[0].Section)
	assert.Equal(t, 7, result.Citations[1].Page)

	assert.Equal(t, 2, result.ChunksUsed)
	assert.Equal(t, 0, result.ImagesUsed)
	assert.Equal(t, "gpt-4o", result.Model)

	require.NotNil(t, result.TokensUsed)
	assert.Equal(t, 120, result.TokensUsed.Prompt)
	assert.Equal(t, 160, result.TokensUsed.Total)
}

func TestGenerateIgnoresUncitedPages(t *testing.T) {
	server := fakeChatServer(t, "Revenue grew [Page 99].", nil)
	defer server.Close()

	gen := newTestGenerator(t, server.URL)

	chunks := []models.RetrievedChunk{
		{ID: "a", Content: "Revenue grew", ContentType: "text", PageNumber: 2,
			SourceDocument: "annual.pdf"},
	}

	result, err := gen.Generate(context.Background(), "Revenue?", chunks)
	require.NoError(t, err)
	assert.Empty(t, result.Citations, "citations require a matching retrieved page")
}

func TestGenerateAttachesImages(t *testing.T) {
	var body map[string]any
	server := fakeChatServer(t, "The chart shows growth [Page 5].", &body)
	defer server.Close()

	gen := newTestGenerator(t, server.URL)

	chunks := []models.RetrievedChunk{
		{ID: "t", Content: "Growth was strong", ContentType: "text", PageNumber: 5,
			SourceDocument: "annual.pdf"},
		{ID: "i", Content: "Figure 2: Growth chart", ContentType: "image", PageNumber: 5,
			SourceDocument: "annual.pdf", ImageCaption: "Figure 2: Growth chart",
			ImageBase64: "aW1hZ2U="},
	}

	result, err := gen.Generate(context.Background(), "What does the chart show?", chunks)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ChunksUsed)
	assert.Equal(t, 1, result.ImagesUsed)

	// The request must carry the image as a data URL content part.
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data:image/png;base64,aW1hZ2U=")
	assert.Contains(t, string(raw), "Figure 2: Growth chart")
}
