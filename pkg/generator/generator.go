// Package generator turns retrieved context into a grounded answer
// using a multimodal chat model.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/finvault/bankrag/internal/models"
	"github.com/finvault/bankrag/internal/types"
)

const systemPrompt = `You are a banking document analyst. Answer questions using ONLY the provided context from financial documents.

Rules:
- Base every statement on the context. If the context does not contain the answer, say so plainly.
- Cite the page for every fact you use, in the form [Page N].
- Preserve exact figures, percentages and dates from the context. Never round or estimate.
- When a chart or table image is provided, read the values from it directly.
- Keep answers concise and factual.`

var pageRefPattern = regexp.MustCompile(`\[Page (\d+)\]`)

type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Generator struct {
	config Config
	llm    *openai.LLM
}

func NewWithConfig(config Config) (*Generator, error) {
	if config.Model == "" {
		config.Model = "gpt-4o"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1500
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}

	opts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithModel(config.Model),
	}
	if config.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(config.Endpoint))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return &Generator{config: config, llm: llm}, nil
}

// Generate answers the query from the retrieved chunks. Text chunks
// become a numbered context block; image chunks are attached as inline
// image parts so the model can read charts and tables directly.
func (g *Generator) Generate(ctx context.Context, query string, chunks []models.RetrievedChunk) (*types.Answer, error) {
	userParts := g.buildUserParts(query, chunks)

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		{Role: schema.ChatMessageTypeHuman, Parts: userParts},
	}

	resp, err := g.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat model returned no choices")
	}

	choice := resp.Choices[0]
	answer := &types.Answer{
		Answer:     choice.Content,
		Citations:  extractCitations(choice.Content, chunks),
		Model:      g.config.Model,
		TokensUsed: tokenUsage(choice.GenerationInfo),
	}
	for _, chunk := range chunks {
		if chunk.ContentType == "image" {
			answer.ImagesUsed++
		} else {
			answer.ChunksUsed++
		}
	}

	slog.Debug("generated answer",
		"chars", len(choice.Content),
		"citations", len(answer.Citations))

	return answer, nil
}

func (g *Generator) buildUserParts(query string, chunks []models.RetrievedChunk) []llms.ContentPart {
	var sb strings.Builder
	sb.WriteString("Context from financial documents:\n\n")

	var parts []llms.ContentPart
	n := 0
	for _, chunk := range chunks {
		if chunk.ContentType == "image" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "[%d] %s, page %d", n, chunk.SourceDocument, chunk.PageNumber)
		if chunk.SectionTitle != "" {
			fmt.Fprintf(&sb, " (%s)", chunk.SectionTitle)
		}
		fmt.Fprintf(&sb, ":\n%s\n\n", chunk.Content)
	}

	for _, chunk := range chunks {
		if chunk.ContentType != "image" || chunk.ImageBase64 == "" {
			continue
		}
		fmt.Fprintf(&sb, "An image from %s, page %d", chunk.SourceDocument, chunk.PageNumber)
		if chunk.ImageCaption != "" {
			fmt.Fprintf(&sb, " (%s)", chunk.ImageCaption)
		}
		sb.WriteString(" is attached.\n")
		parts = append(parts, llms.ImageURLPart("data:image/png;base64,"+chunk.ImageBase64))
	}

	fmt.Fprintf(&sb, "\nQuestion: %s", query)

	return append([]llms.ContentPart{llms.TextPart(sb.String())}, parts...)
}

// extractCitations maps every [Page N] reference in the answer back to
// the retrieved chunk that supplied that page.
func extractCitations(answer string, chunks []models.RetrievedChunk) []types.Citation {
	byPage := make(map[int]models.RetrievedChunk)
	for _, chunk := range chunks {
		if _, ok := byPage[chunk.PageNumber]; !ok {
			byPage[chunk.PageNumber] = chunk
		}
	}

	seen := make(map[int]bool)
	citations := []types.Citation{}
	for _, m := range pageRefPattern.FindAllStringSubmatch(answer, -1) {
		page, err := strconv.Atoi(m[1])
		if err != nil || seen[page] {
			continue
		}
		seen[page] = true

		chunk, ok := byPage[page]
		if !ok {
			continue
		}
		citations = append(citations, types.Citation{
			Page:        page,
			Source:      chunk.SourceDocument,
			Section:     chunk.SectionTitle,
			ContentType: chunk.ContentType,
		})
	}

	sort.Slice(citations, func(i, j int) bool { return citations[i].Page < citations[j].Page })
	return citations
}

func tokenUsage(info map[string]any) *types.TokenUsage {
	if info == nil {
		return nil
	}
	usage := &types.TokenUsage{
		Prompt:     intValue(info["PromptTokens"]),
		Completion: intValue(info["CompletionTokens"]),
		Total:      intValue(info["TotalTokens"]),
	}
	if usage.Total == 0 && usage.Prompt == 0 && usage.Completion == 0 {
		return nil
	}
	return usage
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
