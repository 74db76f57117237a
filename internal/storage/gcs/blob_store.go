// Package gcs archives page snapshots in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"

	"cloud.google.com/go/storage"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config names the bucket and the object attributes set on every upload.
type Config struct {
	Bucket string
	// CacheControl is copied to each object; empty leaves the bucket default.
	CacheControl string
	// Metadata is attached to each object as custom metadata.
	Metadata map[string]string
}

// BlobStore writes snapshots to one bucket.
type BlobStore struct {
	client *storage.Client
	cfg    Config
}

// New validates cfg. The bucket itself is checked on first write.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, cfg: cfg}, nil
}

// PutObject uploads data in a single request with a CRC32C check and
// returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	w := s.client.Bucket(s.cfg.Bucket).Object(path).NewWriter(ctx)
	applyAttrs(w, s.cfg, contentType, data)

	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", path, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", path, err)
	}
	return URI(s.cfg.Bucket, path), nil
}

// URI formats the gs:// address of an object.
func URI(bucket, path string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, path)
}

func applyAttrs(w *storage.Writer, cfg Config, contentType string, data []byte) {
	// Snapshots are small; a chunk size of zero uploads in one request.
	w.ChunkSize = 0
	w.CRC32C = crc32.Checksum(data, castagnoli)
	w.SendCRC32C = true
	if contentType != "" {
		w.ContentType = contentType
	}
	if cfg.CacheControl != "" {
		w.CacheControl = cfg.CacheControl
	}
	if len(cfg.Metadata) > 0 {
		w.Metadata = make(map[string]string, len(cfg.Metadata))
		for k, v := range cfg.Metadata {
			w.Metadata[k] = v
		}
	}
}
