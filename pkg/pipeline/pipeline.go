// Package pipeline orchestrates document ingestion and question
// answering across the cracker, chunker, embedders, index and
// answer generator.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/finvault/bankrag/internal/models"
	"github.com/finvault/bankrag/internal/types"
)

// noAnswerText is returned when retrieval comes back empty, without
// calling the chat model.
const noAnswerText = "I couldn't find relevant information in the indexed documents to answer your question. Try rephrasing the question or ingest the relevant documents first."

type Cracker interface {
	Crack(ctx context.Context, data []byte, filename string) (*models.CrackedDocument, error)
}

type Chunker interface {
	ChunkDocument(pages []models.PageContent, filename string) []models.Chunk
}

type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ImageEmbedder interface {
	EmbedImageBatch(ctx context.Context, images [][]byte) ([][]float32, error)
	EmbedTextForImageSearch(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	CreateDocument(ctx context.Context, rec models.DocumentRecord) error
	DeleteDocumentsByFilename(ctx context.Context, filename string) error
	UpsertEntries(ctx context.Context, entries []models.IndexEntry) error
	UpdateDocumentStats(ctx context.Context, id string, textChunks, images int) error
	HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]models.RetrievedChunk, error)
	SearchImages(ctx context.Context, queryVector []float32, limit int) ([]models.RetrievedChunk, error)
}

type Generator interface {
	Generate(ctx context.Context, query string, chunks []models.RetrievedChunk) (*types.Answer, error)
}

type Config struct {
	TopK int
	// OnStage, when set, is called as each ingestion stage starts.
	OnStage func(stage string)
}

type Pipeline struct {
	config        Config
	cracker       Cracker
	chunker       Chunker
	textEmbedder  TextEmbedder
	imageEmbedder ImageEmbedder
	index         Index
	generator     Generator
}

func New(config Config, cracker Cracker, chunker Chunker, textEmbedder TextEmbedder,
	imageEmbedder ImageEmbedder, index Index, generator Generator) *Pipeline {
	if config.TopK == 0 {
		config.TopK = 5
	}
	return &Pipeline{
		config:        config,
		cracker:       cracker,
		chunker:       chunker,
		textEmbedder:  textEmbedder,
		imageEmbedder: imageEmbedder,
		index:         index,
		generator:     generator,
	}
}

// IngestResult summarizes one completed ingestion.
type IngestResult struct {
	DocumentID    string
	Filename      string
	Pages         int
	TextChunks    int
	ImagesIndexed int
	Elapsed       time.Duration
}

// Ingest cracks a PDF, chunks and embeds its contents, and writes the
// result to the index. blobPath is where the caller archived the
// original file.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename, blobPath string) (*IngestResult, error) {
	start := time.Now()
	logCtx := slog.With("filename", filename)

	p.stage("cracking")
	doc, err := p.cracker.Crack(ctx, data, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to crack document: %w", err)
	}

	p.stage("chunking")
	chunks := p.chunker.ChunkDocument(doc.Pages, filename)

	docID := uuid.NewString()

	p.stage("embedding text")
	entries, err := p.buildTextEntries(ctx, docID, chunks)
	if err != nil {
		return nil, err
	}

	p.stage("embedding images")
	imageEntries, err := p.buildImageEntries(ctx, docID, filename, doc.Pages)
	if err != nil {
		return nil, err
	}
	entries = append(entries, imageEntries...)

	// No registry writes until every entry is built. Prior versions of
	// the same filename are replaced wholesale.
	p.stage("indexing")
	if err := p.index.DeleteDocumentsByFilename(ctx, filename); err != nil {
		return nil, err
	}
	if err := p.index.CreateDocument(ctx, models.DocumentRecord{
		ID:       docID,
		Filename: filename,
		BlobPath: blobPath,
		Pages:    doc.TotalPages,
	}); err != nil {
		return nil, err
	}
	if err := p.index.UpsertEntries(ctx, entries); err != nil {
		return nil, err
	}
	if err := p.index.UpdateDocumentStats(ctx, docID, len(chunks), len(imageEntries)); err != nil {
		return nil, err
	}

	result := &IngestResult{
		DocumentID:    docID,
		Filename:      filename,
		Pages:         doc.TotalPages,
		TextChunks:    len(chunks),
		ImagesIndexed: len(imageEntries),
		Elapsed:       time.Since(start),
	}

	logCtx.Info("document ingested",
		"document_id", docID,
		"pages", result.Pages,
		"text_chunks", result.TextChunks,
		"images", result.ImagesIndexed,
		"elapsed", result.Elapsed)

	return result, nil
}

func (p *Pipeline) buildTextEntries(ctx context.Context, docID string, chunks []models.Chunk) ([]models.IndexEntry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := p.textEmbedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	entries := make([]models.IndexEntry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = models.IndexEntry{
			ID:           chunk.ID,
			DocumentID:   docID,
			Content:      chunk.Content,
			ContentType:  "text",
			PageNumber:   chunk.PageNumber,
			SectionTitle: chunk.SectionTitle,
			HasTable:     chunk.HasTable,
			TextVector:   vectors[i],
		}
	}
	return entries, nil
}

func (p *Pipeline) buildImageEntries(ctx context.Context, docID, filename string, pages []models.PageContent) ([]models.IndexEntry, error) {
	var images []models.ExtractedImage
	for _, page := range pages {
		images = append(images, page.Images...)
	}
	if len(images) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, len(images))
	for i, img := range images {
		payloads[i] = img.Data
	}

	vectors, err := p.imageEmbedder.EmbedImageBatch(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("failed to embed images: %w", err)
	}

	entries := make([]models.IndexEntry, len(images))
	for i, img := range images {
		content := img.Caption
		if content == "" {
			content = fmt.Sprintf("Image from page %d of %s", img.PageNumber, filename)
		}

		entries[i] = models.IndexEntry{
			ID:           fmt.Sprintf("%s_img_p%d_%d", filename, img.PageNumber, img.Index),
			DocumentID:   docID,
			Content:      content,
			ContentType:  "image",
			PageNumber:   img.PageNumber,
			ImageCaption: img.Caption,
			ImageBase64:  base64.StdEncoding.EncodeToString(img.Data),
		}
		// A zero vector means the embedding failed; leave it out of
		// the index rather than poison similarity rankings.
		if !isZero(vectors[i]) {
			entries[i].ImageVector = vectors[i]
		}
	}
	return entries, nil
}

// Query retrieves relevant text and image chunks and generates a
// grounded answer. When retrieval is empty the canned no-answer
// response goes back without touching the chat model.
func (p *Pipeline) Query(ctx context.Context, query string, topK int, includeImages bool) (*types.Answer, error) {
	start := time.Now()
	if topK <= 0 {
		topK = p.config.TopK
	}

	queryVector, err := p.textEmbedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := p.index.HybridSearch(ctx, query, queryVector, topK)
	if err != nil {
		return nil, err
	}

	if includeImages {
		imageChunks, err := p.searchImages(ctx, query, topK)
		if err != nil {
			// Image retrieval is best-effort on top of text retrieval.
			slog.Warn("image search failed", "error", err)
		} else {
			chunks = merge(chunks, imageChunks, topK)
		}
	}

	if len(chunks) == 0 {
		return &types.Answer{
			Answer:                noAnswerText,
			Citations:             []types.Citation{},
			ProcessingTimeSeconds: time.Since(start).Seconds(),
		}, nil
	}

	answer, err := p.generator.Generate(ctx, query, chunks)
	if err != nil {
		return nil, err
	}
	answer.ProcessingTimeSeconds = time.Since(start).Seconds()

	slog.Info("query answered",
		"chunks", answer.ChunksUsed,
		"images", answer.ImagesUsed,
		"elapsed", time.Since(start))

	return answer, nil
}

func (p *Pipeline) searchImages(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error) {
	vector, err := p.imageEmbedder.EmbedTextForImageSearch(ctx, query)
	if err != nil {
		return nil, err
	}

	limit := topK / 2
	if limit < 2 {
		limit = 2
	}
	return p.index.SearchImages(ctx, vector, limit)
}

// merge combines the two result sets, dropping duplicate ids, ordering
// by score best first, and capping the fused list at limit.
func merge(text, images []models.RetrievedChunk, limit int) []models.RetrievedChunk {
	seen := make(map[string]bool, len(text))
	merged := make([]models.RetrievedChunk, 0, len(text)+len(images))
	for _, chunk := range text {
		seen[chunk.ID] = true
		merged = append(merged, chunk)
	}
	for _, chunk := range images {
		if !seen[chunk.ID] {
			merged = append(merged, chunk)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func (p *Pipeline) stage(name string) {
	if p.config.OnStage != nil {
		p.config.OnStage(name)
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
