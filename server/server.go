// Package server exposes the ingestion and query pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/finvault/bankrag/internal/models"
	"github.com/finvault/bankrag/internal/types"
	"github.com/finvault/bankrag/pkg/blob"
	"github.com/finvault/bankrag/pkg/pipeline"
	"github.com/finvault/bankrag/pkg/store"
)

// Ingester runs document ingestion and question answering.
type Ingester interface {
	Ingest(ctx context.Context, data []byte, filename, blobPath string) (*pipeline.IngestResult, error)
	Query(ctx context.Context, query string, topK int, includeImages bool) (*types.Answer, error)
}

// Registry manages the set of indexed documents.
type Registry interface {
	ListDocuments(ctx context.Context) ([]models.DocumentRecord, error)
	DeleteDocument(ctx context.Context, key string) (*models.DocumentRecord, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Port           int
	MaxUploadBytes int64
}

type Server struct {
	config   Config
	pipeline Ingester
	registry Registry
	storage  blob.Storage
	http     *http.Server
}

func NewWithConfig(config Config, p Ingester, registry Registry, storage blob.Storage) *Server {
	if config.Port == 0 {
		config.Port = 8001
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 100 << 20
	}

	s := &Server{
		config:   config,
		pipeline: p,
		registry: registry,
		storage:  storage,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/query", s.handleQuery)
		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/health", s.handleHealth)
	})

	return r
}

func (s *Server) Start() error {
	slog.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("file too large, limit is %d bytes", s.config.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "missing file upload field 'file'")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF files are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	blobPath, err := s.storage.StorePDF(r.Context(), data, filename)
	if err != nil {
		slog.Error("failed to store pdf", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), data, filename, blobPath)
	if err != nil {
		slog.Error("ingestion failed", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	resp := types.IngestResponse{
		DocumentID:            result.DocumentID,
		Filename:              result.Filename,
		PagesProcessed:        result.Pages,
		TextChunks:            result.TextChunks,
		ImagesIndexed:         result.ImagesIndexed,
		ProcessingTimeSeconds: result.Elapsed.Seconds(),
	}
	if records, err := s.registry.ListDocuments(r.Context()); err == nil {
		resp.TotalDocumentsIndexed = len(records)
	}

	// The metadata archive is a convenience copy, not part of the index.
	if err := s.storage.StoreMetadata(r.Context(), filename, resp); err != nil {
		slog.Warn("failed to store metadata", "filename", filename, "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	if req.TopK == 0 {
		req.TopK = 5
	}
	if req.TopK < 1 || req.TopK > 20 {
		writeError(w, http.StatusBadRequest, "top_k must be between 1 and 20")
		return
	}
	includeImages := req.IncludeImages == nil || *req.IncludeImages

	answer, err := s.pipeline.Query(r.Context(), req.Query, req.TopK, includeImages)
	if err != nil {
		slog.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.ListDocuments(r.Context())
	if err != nil {
		slog.Error("failed to list documents", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	infos := make([]types.DocumentInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, types.DocumentInfo{
			ID:         rec.ID,
			Filename:   rec.Filename,
			Pages:      rec.Pages,
			TextChunks: rec.TextChunks,
			Images:     rec.Images,
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": infos,
		"count":     len(infos),
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")

	rec, err := s.registry.DeleteDocument(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete document", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}

	if rec.BlobPath != "" {
		if err := s.storage.Delete(r.Context(), rec.BlobPath); err != nil {
			slog.Warn("failed to delete stored pdf", "path", rec.BlobPath, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":  rec.ID,
		"filename": rec.Filename,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.registry.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		slog.Warn("health check failed", "error", err)
	}

	writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "bankrag",
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, types.ErrorResponse{Error: message})
}
