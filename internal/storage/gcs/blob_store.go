// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const (
	defaultPublicHost = "https://storage.googleapis.com"
	// Uploads are immutable per key; ad images are replaced under new keys.
	cacheControl = "public, max-age=86400"
	sniffLen     = 512
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
	// PublicBaseURL overrides the https://storage.googleapis.com/<bucket> URL.
	PublicBaseURL string
}

// BlobStore writes uploads to a configured GCS bucket.
type BlobStore struct {
	bucket  *storage.BucketHandle
	prefix  string
	baseURL string
}

// New creates a GCS-backed blob store. Transient failures are retried by
// the client for every upload, including non-idempotent ones.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("gcs: storage client is required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("gcs: bucket name is required")
	}
	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultPublicHost + "/" + cfg.Bucket
	}
	bucket := client.Bucket(cfg.Bucket).Retryer(storage.WithPolicy(storage.RetryAlways))
	return &BlobStore{bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/"), baseURL: baseURL}, nil
}

// ObjectName maps an upload key to the object name inside the bucket.
func (s *BlobStore) ObjectName(key string) string {
	key = strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// PublicURL returns the URL an object is served from.
func (s *BlobStore) PublicURL(key string) string {
	return s.baseURL + "/" + s.ObjectName(key)
}

// PutObject uploads r under key and returns its public URL. An empty
// contentType is sniffed from the first bytes.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	name := s.ObjectName(key)
	if strings.TrimSpace(key) == "" || strings.HasSuffix(name, "/") || path.Base(name) == "." {
		return "", errors.New("gcs: object key is required")
	}
	body := bufio.NewReaderSize(r, sniffLen)
	if contentType == "" {
		head, err := body.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return "", fmt.Errorf("gcs: read %s: %w", key, err)
		}
		contentType = http.DetectContentType(head)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl
	w.Metadata = map[string]string{"source": "portal-upload"}

	if _, err := io.Copy(w, body); err != nil {
		// Canceling ctx aborts the upload; Close then reports the same failure.
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("gcs: upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", name, err)
	}
	return s.PublicURL(key), nil
}
