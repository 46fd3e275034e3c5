// Package blob archives original PDFs and their ingestion metadata, in
// Google Cloud Storage or on the local filesystem.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
)

// Storage archives the raw artifacts of an ingestion. The search index
// stays the source of truth for retrieval; this is the durable copy.
type Storage interface {
	// StorePDF saves the original file and returns its storage path.
	StorePDF(ctx context.Context, data []byte, filename string) (string, error)
	// StoreMetadata saves an ingestion summary next to the PDF.
	StoreMetadata(ctx context.Context, filename string, meta any) error
	// Delete removes a previously stored object by its returned path.
	Delete(ctx context.Context, path string) error
}

type Config struct {
	Bucket   string
	LocalDir string
}

// NewFromConfig returns GCS-backed storage when a bucket is configured,
// local filesystem storage otherwise.
func NewFromConfig(ctx context.Context, config Config) (Storage, error) {
	if config.Bucket != "" {
		return NewGCS(ctx, config.Bucket)
	}
	return NewLocal(config.LocalDir)
}

// blobName namespaces uploads by date plus a random suffix so that
// re-uploading the same filename never overwrites an earlier copy.
func blobName(filename string) string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("pdfs/%s_%s_%s",
		time.Now().UTC().Format("20060102"), hex.EncodeToString(suffix), filepath.Base(filename))
}

func metadataName(filename string) string {
	return fmt.Sprintf("metadata/%s.json", filepath.Base(filename))
}

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket string
}

func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) StorePDF(ctx context.Context, data []byte, filename string) (string, error) {
	name := blobName(filename)

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", name, err)
	}

	path := fmt.Sprintf("gs://%s/%s", g.bucket, name)
	slog.Info("stored pdf", "path", path, "bytes", len(data))
	return path, nil
}

func (g *GCS) StoreMetadata(ctx context.Context, filename string, meta any) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	name := metadataName(filename)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object %s: %w", name, err)
	}
	return w.Close()
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	prefix := fmt.Sprintf("gs://%s/", g.bucket)
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return fmt.Errorf("path %q is not in bucket %s", path, g.bucket)
	}
	return g.client.Bucket(g.bucket).Object(path[len(prefix):]).Delete(ctx)
}

// Local stores objects under a directory on disk. Used in development
// when no bucket is configured.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = "uploads"
	}
	for _, sub := range []string{"pdfs", "metadata"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	return &Local{dir: dir}, nil
}

func (l *Local) StorePDF(_ context.Context, data []byte, filename string) (string, error) {
	path := filepath.Join(l.dir, filepath.FromSlash(blobName(filename)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Info("stored pdf", "path", path, "bytes", len(data))
	return path, nil
}

func (l *Local) StoreMetadata(_ context.Context, filename string, meta any) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	path := filepath.Join(l.dir, filepath.FromSlash(metadataName(filename)))
	return os.WriteFile(path, data, 0o644)
}

func (l *Local) Delete(_ context.Context, path string) error {
	return os.Remove(path)
}
