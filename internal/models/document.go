package models

import "time"

// ExtractedImage is a raster image pulled out of a PDF page.
type ExtractedImage struct {
	Data       []byte
	Format     string // "png", "jpg", ...
	Width      int
	Height     int
	PageNumber int
	Index      int
	Caption    string
}

// PageContent holds everything extracted from a single PDF page.
type PageContent struct {
	PageNumber int
	Text       string
	Images     []ExtractedImage
}

// DocumentMetadata carries document-level attributes of a cracked PDF.
type DocumentMetadata struct {
	Title string
}

// CrackedDocument is a fully extracted PDF.
type CrackedDocument struct {
	Filename   string
	TotalPages int
	Pages      []PageContent
	Metadata   DocumentMetadata
}

// Chunk is a single text chunk produced by the chunker.
type Chunk struct {
	ID             string
	Content        string
	PageNumber     int
	ChunkIndex     int
	TokenCount     int
	HasTable       bool
	HasFigureRef   bool
	SectionTitle   string
	SourceDocument string
}

// IndexEntry is one row bound for the search index: a text chunk or an image.
// Exactly one of TextVector/ImageVector is set depending on ContentType.
type IndexEntry struct {
	ID           string
	DocumentID   string
	Content      string
	ContentType  string // "text" or "image"
	PageNumber   int
	SectionTitle string
	HasTable     bool
	ImageCaption string
	ImageBase64  string
	TextVector   []float32
	ImageVector  []float32
}

// RetrievedChunk is an index hit with its relevance score.
type RetrievedChunk struct {
	ID             string
	Content        string
	ContentType    string
	PageNumber     int
	SourceDocument string
	SectionTitle   string
	Score          float64
	HasTable       bool
	ImageBase64    string
	ImageCaption   string
}

// DocumentRecord is a row in the documents registry.
type DocumentRecord struct {
	ID         string
	Filename   string
	BlobPath   string
	Pages      int
	TextChunks int
	Images     int
	CreatedAt  time.Time
}
