package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvault/bankrag/internal/models"
	"github.com/finvault/bankrag/internal/types"
	"github.com/finvault/bankrag/pkg/pipeline"
)

type fakeCracker struct {
	doc *models.CrackedDocument
}

func (f *fakeCracker) Crack(_ context.Context, _ []byte, _ string) (*models.CrackedDocument, error) {
	return f.doc, nil
}

type fakeChunker struct{}

func (fakeChunker) ChunkDocument(pages []models.PageContent, filename string) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		if page.Text == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			ID:             fmt.Sprintf("%s_p%d_c0", filename, page.PageNumber),
			Content:        page.Text,
			PageNumber:     page.PageNumber,
			SourceDocument: filename,
		})
	}
	return chunks
}

type fakeTextEmbedder struct {
	queryCalls int
	batchErr   error
}

func (f *fakeTextEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	f.queryCalls++
	return []float32{1, 0}, nil
}

func (f *fakeTextEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5, 0.5}
	}
	return out, nil
}

type fakeImageEmbedder struct {
	failSecond bool
	searchVec  []float32
}

func (f *fakeImageEmbedder) EmbedImageBatch(_ context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range images {
		if f.failSecond && i == 1 {
			out[i] = []float32{0, 0} // embedding failure fallback
			continue
		}
		out[i] = []float32{0.1, 0.9}
	}
	return out, nil
}

func (f *fakeImageEmbedder) EmbedTextForImageSearch(_ context.Context, _ string) ([]float32, error) {
	return f.searchVec, nil
}

type fakeIndex struct {
	docs        []models.DocumentRecord
	entries     []models.IndexEntry
	textHits    []models.RetrievedChunk
	imageHits   []models.RetrievedChunk
	imageLimit  int
	statsChunks int
	statsImages int
}

func (f *fakeIndex) CreateDocument(_ context.Context, rec models.DocumentRecord) error {
	f.docs = append(f.docs, rec)
	return nil
}

func (f *fakeIndex) DeleteDocumentsByFilename(_ context.Context, filename string) error {
	removed := make(map[string]bool)
	docs := f.docs[:0]
	for _, doc := range f.docs {
		if doc.Filename == filename {
			removed[doc.ID] = true
			continue
		}
		docs = append(docs, doc)
	}
	f.docs = docs

	entries := f.entries[:0]
	for _, entry := range f.entries {
		if !removed[entry.DocumentID] {
			entries = append(entries, entry)
		}
	}
	f.entries = entries
	return nil
}

func (f *fakeIndex) UpsertEntries(_ context.Context, entries []models.IndexEntry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeIndex) UpdateDocumentStats(_ context.Context, _ string, textChunks, images int) error {
	f.statsChunks, f.statsImages = textChunks, images
	return nil
}

func (f *fakeIndex) HybridSearch(_ context.Context, _ string, _ []float32, _ int) ([]models.RetrievedChunk, error) {
	return f.textHits, nil
}

func (f *fakeIndex) SearchImages(_ context.Context, _ []float32, limit int) ([]models.RetrievedChunk, error) {
	f.imageLimit = limit
	return f.imageHits, nil
}

type fakeGenerator struct {
	called bool
	chunks []models.RetrievedChunk
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, chunks []models.RetrievedChunk) (*types.Answer, error) {
	f.called = true
	f.chunks = chunks
	return &types.Answer{Answer: "generated", ChunksUsed: len(chunks)}, nil
}

func newTestPipeline(cracker *fakeCracker, index *fakeIndex, gen *fakeGenerator,
	imgEmb *fakeImageEmbedder) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{}, cracker, fakeChunker{},
		&fakeTextEmbedder{}, imgEmb, index, gen)
}

func TestIngestIndexesTextAndImages(t *testing.T) {
	cracker := &fakeCracker{doc: &models.CrackedDocument{
		Filename:   "report.pdf",
		TotalPages: 2,
		Pages: []models.PageContent{
			{PageNumber: 1, Text: "Net interest income rose."},
			{PageNumber: 2, Text: "Expenses were flat.", Images: []models.ExtractedImage{
				{Data: []byte{1, 2, 3}, Format: "png", PageNumber: 2, Index: 0, Caption: "Figure 1: Revenue"},
			}},
		},
	}}
	index := &fakeIndex{}

	var stages []string
	p := pipeline.New(pipeline.Config{OnStage: func(s string) { stages = append(stages, s) }},
		cracker, fakeChunker{}, &fakeTextEmbedder{}, &fakeImageEmbedder{}, index, &fakeGenerator{})

	result, err := p.Ingest(context.Background(), []byte("%PDF"), "report.pdf", "gs://b/pdfs/report.pdf")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 2, result.TextChunks)
	assert.Equal(t, 1, result.ImagesIndexed)
	assert.NotEmpty(t, result.DocumentID)

	require.Len(t, index.docs, 1)
	assert.Equal(t, "gs://b/pdfs/report.pdf", index.docs[0].BlobPath)

	require.Len(t, index.entries, 3)
	text, image := index.entries[0], index.entries[2]
	assert.Equal(t, "text", text.ContentType)
	assert.NotEmpty(t, text.TextVector)
	assert.Empty(t, text.ImageVector)

	assert.Equal(t, "image", image.ContentType)
	assert.Equal(t, "report.pdf_img_p2_0", image.ID)
	assert.Equal(t, "Figure 1: Revenue", image.Content)
	assert.Equal(t, "AQID", image.ImageBase64)
	assert.NotEmpty(t, image.ImageVector)
	assert.Empty(t, image.TextVector)

	assert.Equal(t, 2, index.statsChunks)
	assert.Equal(t, 1, index.statsImages)

	assert.Equal(t, []string{"cracking", "chunking", "embedding text", "embedding images", "indexing"}, stages)
}

func TestIngestDropsFailedImageVectors(t *testing.T) {
	cracker := &fakeCracker{doc: &models.CrackedDocument{
		Filename:   "report.pdf",
		TotalPages: 1,
		Pages: []models.PageContent{
			{PageNumber: 1, Images: []models.ExtractedImage{
				{Data: []byte{1}, PageNumber: 1, Index: 0},
				{Data: []byte{2}, PageNumber: 1, Index: 1},
			}},
		},
	}}
	index := &fakeIndex{}
	p := newTestPipeline(cracker, index, &fakeGenerator{}, &fakeImageEmbedder{failSecond: true})

	result, err := p.Ingest(context.Background(), []byte("%PDF"), "report.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ImagesIndexed)

	require.Len(t, index.entries, 2)
	assert.NotEmpty(t, index.entries[0].ImageVector)
	assert.Empty(t, index.entries[1].ImageVector, "zero vector from a failed embedding stays out of the index")

	// Without a caption the content falls back to a page reference.
	assert.True(t, strings.HasPrefix(index.entries[0].Content, "Image from page 1"))
}

func TestIngestEmbeddingFailureLeavesNoRegistryRow(t *testing.T) {
	cracker := &fakeCracker{doc: &models.CrackedDocument{
		Filename:   "report.pdf",
		TotalPages: 1,
		Pages:      []models.PageContent{{PageNumber: 1, Text: "Net interest income rose."}},
	}}
	index := &fakeIndex{}

	p := pipeline.New(pipeline.Config{}, cracker, fakeChunker{},
		&fakeTextEmbedder{batchErr: errors.New("embedding API unavailable")},
		&fakeImageEmbedder{}, index, &fakeGenerator{})

	_, err := p.Ingest(context.Background(), []byte("%PDF"), "report.pdf", "")
	require.Error(t, err)

	assert.Empty(t, index.docs, "a failed ingest must not register a document")
	assert.Empty(t, index.entries)
}

func TestReingestReplacesPriorDocument(t *testing.T) {
	twoPages := &fakeCracker{doc: &models.CrackedDocument{
		Filename:   "report.pdf",
		TotalPages: 2,
		Pages: []models.PageContent{
			{PageNumber: 1, Text: "First version, page one."},
			{PageNumber: 2, Text: "First version, page two."},
		},
	}}
	index := &fakeIndex{}
	p := newTestPipeline(twoPages, index, &fakeGenerator{}, &fakeImageEmbedder{})

	first, err := p.Ingest(context.Background(), []byte("%PDF"), "report.pdf", "")
	require.NoError(t, err)
	require.Len(t, index.entries, 2)

	// The second version is shorter; the surplus chunk from the first
	// version must not survive under the stale document id.
	twoPages.doc = &models.CrackedDocument{
		Filename:   "report.pdf",
		TotalPages: 1,
		Pages:      []models.PageContent{{PageNumber: 1, Text: "Second version, page one."}},
	}

	second, err := p.Ingest(context.Background(), []byte("%PDF"), "report.pdf", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentID, second.DocumentID)

	require.Len(t, index.docs, 1, "one registry row per filename")
	assert.Equal(t, second.DocumentID, index.docs[0].ID)

	require.Len(t, index.entries, 1)
	assert.Equal(t, second.DocumentID, index.entries[0].DocumentID)
	assert.Contains(t, index.entries[0].Content, "Second version")
}

func TestQueryMergesAndDeduplicates(t *testing.T) {
	index := &fakeIndex{
		textHits: []models.RetrievedChunk{
			{ID: "a", ContentType: "text", Score: 0.030},
			{ID: "b", ContentType: "text", Score: 0.015},
		},
		imageHits: []models.RetrievedChunk{
			{ID: "img1", ContentType: "image", Score: 0.85},
			{ID: "a", ContentType: "text", Score: 0.99}, // duplicate id
		},
	}
	gen := &fakeGenerator{}
	p := newTestPipeline(&fakeCracker{}, index, gen, &fakeImageEmbedder{searchVec: []float32{1}})

	answer, err := p.Query(context.Background(), "revenue trend", 5, true)
	require.NoError(t, err)
	require.True(t, gen.called)

	require.Len(t, gen.chunks, 3)
	assert.Equal(t, "img1", gen.chunks[0].ID, "highest score first")
	assert.Equal(t, "generated", answer.Answer)
	assert.GreaterOrEqual(t, answer.ProcessingTimeSeconds, 0.0)

	// Image retrieval asks for half of top_k, floored at two.
	assert.Equal(t, 2, index.imageLimit)
}

func TestQueryCapsMergedResultsAtTopK(t *testing.T) {
	index := &fakeIndex{
		textHits: []models.RetrievedChunk{
			{ID: "a", ContentType: "text", Score: 0.030},
			{ID: "b", ContentType: "text", Score: 0.015},
		},
		imageHits: []models.RetrievedChunk{
			{ID: "img1", ContentType: "image", Score: 0.90},
			{ID: "img2", ContentType: "image", Score: 0.85},
		},
	}
	gen := &fakeGenerator{}
	p := newTestPipeline(&fakeCracker{}, index, gen, &fakeImageEmbedder{searchVec: []float32{1}})

	_, err := p.Query(context.Background(), "revenue trend", 2, true)
	require.NoError(t, err)

	require.Len(t, gen.chunks, 2, "fused result set stays within top_k")
	assert.Equal(t, "img1", gen.chunks[0].ID)
	assert.Equal(t, "img2", gen.chunks[1].ID)
}

func TestQuerySkipsImagesWhenDisabled(t *testing.T) {
	index := &fakeIndex{
		textHits:  []models.RetrievedChunk{{ID: "a", ContentType: "text", Score: 0.03}},
		imageHits: []models.RetrievedChunk{{ID: "img1", ContentType: "image", Score: 0.9}},
	}
	gen := &fakeGenerator{}
	p := newTestPipeline(&fakeCracker{}, index, gen, &fakeImageEmbedder{})

	_, err := p.Query(context.Background(), "revenue", 5, false)
	require.NoError(t, err)
	require.Len(t, gen.chunks, 1)
	assert.Equal(t, "a", gen.chunks[0].ID)
}

func TestQueryEmptyRetrievalSkipsGenerator(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestPipeline(&fakeCracker{}, &fakeIndex{}, gen, &fakeImageEmbedder{})

	answer, err := p.Query(context.Background(), "unknown topic", 5, true)
	require.NoError(t, err)

	assert.False(t, gen.called)
	assert.Contains(t, answer.Answer, "couldn't find relevant information")
	assert.NotNil(t, answer.Citations)
	assert.Empty(t, answer.Citations)
}
