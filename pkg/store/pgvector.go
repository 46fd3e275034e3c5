// Package store manages the external search index: a Postgres database
// with pgvector holding text vectors, image vectors and a full-text
// column. Hybrid ranking happens entirely inside Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/finvault/bankrag/internal/models"
)

// ErrNotFound is returned when a document lookup matches nothing.
var ErrNotFound = errors.New("document not found")

// rrfK dampens the contribution of lower ranks in reciprocal rank fusion.
const rrfK = 60

type Config struct {
	ConnString     string
	TextVectorDim  int
	ImageVectorDim int
	BatchSize      int
	SearchLimit    int
	MinSimilarity  float64
}

type Store struct {
	config Config
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config Config) (*Store, error) {
	if config.TextVectorDim == 0 {
		config.TextVectorDim = 1536
	}
	if config.ImageVectorDim == 0 {
		config.ImageVectorDim = 1024
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{config: config, pool: pool}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createDocuments := `
		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			filename TEXT NOT NULL,
			blob_path TEXT NOT NULL DEFAULT '',
			pages INTEGER NOT NULL DEFAULT 0,
			text_chunks INTEGER NOT NULL DEFAULT 0,
			images INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := s.pool.Exec(ctx, createDocuments); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	createChunks := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL,
			page_number INTEGER NOT NULL DEFAULT 0,
			section_title TEXT NOT NULL DEFAULT '',
			has_table BOOLEAN NOT NULL DEFAULT FALSE,
			image_caption TEXT NOT NULL DEFAULT '',
			image_base64 TEXT NOT NULL DEFAULT '',
			text_vector vector(%d),
			image_vector vector(%d),
			content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`, s.config.TextVectorDim, s.config.ImageVectorDim)
	if _, err := s.pool.Exec(ctx, createChunks); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS chunks_text_vector_idx
			ON chunks USING ivfflat (text_vector vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS chunks_image_vector_idx
			ON chunks USING ivfflat (image_vector vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS chunks_content_tsv_idx
			ON chunks USING gin (content_tsv)`,
		`CREATE INDEX IF NOT EXISTS chunks_document_id_idx
			ON chunks (document_id)`,
	}
	for _, stmt := range indexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// CreateDocument inserts a registry row for a newly ingested document.
func (s *Store) CreateDocument(ctx context.Context, rec models.DocumentRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, blob_path, pages)
		VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Filename, rec.BlobPath, rec.Pages)
	if err != nil {
		return fmt.Errorf("failed to create document record: %w", err)
	}
	return nil
}

// UpdateDocumentStats records how many chunks and images were indexed.
func (s *Store) UpdateDocumentStats(ctx context.Context, id string, textChunks, images int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET text_chunks = $2, images = $3 WHERE id = $1`,
		id, textChunks, images)
	if err != nil {
		return fmt.Errorf("failed to update document stats: %w", err)
	}
	return nil
}

// DeleteDocumentsByFilename removes every document carrying the given
// filename, chunks included via the cascade. Re-ingesting a file calls
// this so the registry holds one row per filename.
func (s *Store) DeleteDocumentsByFilename(ctx context.Context, filename string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE filename = $1`, filename)
	if err != nil {
		return fmt.Errorf("failed to delete prior documents: %w", err)
	}
	return nil
}

// UpsertEntries writes index entries in batches inside a transaction.
// Re-ingesting a document overwrites entries with the same chunk id.
func (s *Store) UpsertEntries(ctx context.Context, entries []models.IndexEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := `
		INSERT INTO chunks (id, document_id, content, content_type, page_number,
			section_title, has_table, image_caption, image_base64, text_vector, image_vector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			content_type = EXCLUDED.content_type,
			page_number = EXCLUDED.page_number,
			section_title = EXCLUDED.section_title,
			has_table = EXCLUDED.has_table,
			image_caption = EXCLUDED.image_caption,
			image_base64 = EXCLUDED.image_base64,
			text_vector = EXCLUDED.text_vector,
			image_vector = EXCLUDED.image_vector`

	for i := 0; i < len(entries); i += s.config.BatchSize {
		end := i + s.config.BatchSize
		if end > len(entries) {
			end = len(entries)
		}

		batch := &pgx.Batch{}
		for _, entry := range entries[i:end] {
			var textVector, imageVector any
			if len(entry.TextVector) > 0 {
				textVector = pgvector.NewVector(entry.TextVector)
			}
			if len(entry.ImageVector) > 0 {
				imageVector = pgvector.NewVector(entry.ImageVector)
			}

			batch.Queue(stmt,
				entry.ID,
				entry.DocumentID,
				sanitizeUTF8(entry.Content),
				entry.ContentType,
				entry.PageNumber,
				sanitizeUTF8(entry.SectionTitle),
				entry.HasTable,
				sanitizeUTF8(entry.ImageCaption),
				entry.ImageBase64,
				textVector,
				imageVector,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HybridSearch ranks text chunks by reciprocal rank fusion of the
// full-text ranking and the cosine distance ranking, both computed by
// Postgres in a single query.
func (s *Store) HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]models.RetrievedChunk, error) {
	if limit <= 0 {
		limit = s.config.SearchLimit
	}

	sql := fmt.Sprintf(`
		WITH vec AS (
			SELECT id, row_number() OVER (ORDER BY text_vector <=> $1) AS rnk
			FROM chunks
			WHERE content_type = 'text' AND text_vector IS NOT NULL
			ORDER BY text_vector <=> $1
			LIMIT $3
		), kw AS (
			SELECT id, row_number() OVER (
				ORDER BY ts_rank_cd(content_tsv, plainto_tsquery('english', $2)) DESC) AS rnk
			FROM chunks
			WHERE content_type = 'text' AND content_tsv @@ plainto_tsquery('english', $2)
			ORDER BY ts_rank_cd(content_tsv, plainto_tsquery('english', $2)) DESC
			LIMIT $3
		)
		SELECT c.id, c.content, c.page_number, d.filename, c.section_title, c.has_table,
			(coalesce(1.0 / (%d + vec.rnk), 0) + coalesce(1.0 / (%d + kw.rnk), 0))::float8 AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN vec ON vec.id = c.id
		LEFT JOIN kw ON kw.id = c.id
		WHERE vec.id IS NOT NULL OR kw.id IS NOT NULL
		ORDER BY score DESC
		LIMIT $3`, rrfK, rrfK)

	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(queryVector), query, limit)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}
	defer rows.Close()

	var chunks []models.RetrievedChunk
	for rows.Next() {
		chunk := models.RetrievedChunk{ContentType: "text"}
		err := rows.Scan(
			&chunk.ID,
			&chunk.Content,
			&chunk.PageNumber,
			&chunk.SourceDocument,
			&chunk.SectionTitle,
			&chunk.HasTable,
			&chunk.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// SearchImages ranks image entries by cosine similarity against a vector
// from the image embedding space. Results below the similarity threshold
// are dropped.
func (s *Store) SearchImages(ctx context.Context, queryVector []float32, limit int) ([]models.RetrievedChunk, error) {
	if limit <= 0 {
		limit = s.config.SearchLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.content, c.page_number, d.filename, c.image_caption, c.image_base64,
			(1 - (c.image_vector <=> $1))::float8 AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.content_type = 'image' AND c.image_vector IS NOT NULL
		ORDER BY c.image_vector <=> $1
		LIMIT $2`,
		pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("image search failed: %w", err)
	}
	defer rows.Close()

	var chunks []models.RetrievedChunk
	for rows.Next() {
		chunk := models.RetrievedChunk{ContentType: "image"}
		err := rows.Scan(
			&chunk.ID,
			&chunk.Content,
			&chunk.PageNumber,
			&chunk.SourceDocument,
			&chunk.ImageCaption,
			&chunk.ImageBase64,
			&chunk.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if chunk.Score < s.config.MinSimilarity {
			continue
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// ListDocuments returns the registry, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]models.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, blob_path, pages, text_chunks, images, created_at
		FROM documents
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var records []models.DocumentRecord
	for rows.Next() {
		var rec models.DocumentRecord
		err := rows.Scan(&rec.ID, &rec.Filename, &rec.BlobPath, &rec.Pages,
			&rec.TextChunks, &rec.Images, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteDocument removes a document and its chunks. The key may be the
// document id or the original filename; with a filename the most recent
// matching document wins.
func (s *Store) DeleteDocument(ctx context.Context, key string) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	var row pgx.Row

	if _, err := uuid.Parse(key); err == nil {
		row = s.pool.QueryRow(ctx, `
			SELECT id, filename, blob_path, pages, text_chunks, images, created_at
			FROM documents WHERE id = $1`, key)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT id, filename, blob_path, pages, text_chunks, images, created_at
			FROM documents WHERE filename = $1
			ORDER BY created_at DESC LIMIT 1`, key)
	}

	err := row.Scan(&rec.ID, &rec.Filename, &rec.BlobPath, &rec.Pages,
		&rec.TextChunks, &rec.Images, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}

	// Chunks go with the document via ON DELETE CASCADE.
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}

	return &rec, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
