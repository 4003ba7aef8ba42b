// Package local stores uploaded media on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir holds all uploads; keys never resolve outside of it.
	BaseDir string `mapstructure:"base_dir"`
	// PublicBaseURL, when set, is the URL prefix the directory is served under.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// BlobStore writes uploads below a base directory through os.Root.
type BlobStore struct {
	dir     string
	baseURL string
}

// New checks that cfg.BaseDir is a writable directory, creating it if needed.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, errors.New("local storage: base_dir is required")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local storage: resolve %s: %w", cfg.BaseDir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("local storage: create %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("local storage: %s is not writable: %w", dir, err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("local storage: remove probe: %w", err)
	}
	return &BlobStore{dir: dir, baseURL: strings.TrimRight(cfg.PublicBaseURL, "/")}, nil
}

// PutObject stores data under key and returns its public URL, or a file://
// URI when no public URL is configured. Readers never see a partial file.
func (s *BlobStore) PutObject(ctx context.Context, key string, _ string, data io.Reader) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(strings.TrimSpace(key))), "/")
	if key == "" || key == "." {
		return "", errors.New("local storage: object key is required")
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return "", fmt.Errorf("local storage: open root: %w", err)
	}
	defer root.Close()

	if parent := path.Dir(key); parent != "." {
		if err := root.MkdirAll(parent, 0o750); err != nil {
			return "", fmt.Errorf("local storage: mkdir %s: %w", parent, err)
		}
	}
	tmp := key + ".part"
	f, err := root.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("local storage: create %s: %w", key, err)
	}
	_, copyErr := io.Copy(f, readerWithContext{ctx: ctx, r: data})
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = root.Remove(tmp)
		return "", fmt.Errorf("local storage: write %s: %w", key, err)
	}
	if err := root.Rename(tmp, key); err != nil {
		_ = root.Remove(tmp)
		return "", fmt.Errorf("local storage: commit %s: %w", key, err)
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
	}
	return "file://" + filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

// readerWithContext stops a copy once ctx is done.
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
