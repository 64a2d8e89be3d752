// Package blob stores chat photos on local disk and serves them under a
// public url prefix.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvalidKey is returned for keys that are empty or escape the root
var ErrInvalidKey = errors.New("invalid blob key")

// DiskStore writes blobs below Root. The public url of a blob is
// BaseURL + "/" + key.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore creates the root directory if needed
func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &DiskStore{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the directory blobs are stored in
func (s *DiskStore) Root() string {
	return s.root
}

func (s *DiskStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Upload writes data at key and returns its public url. The write goes to a
// temporary file first so readers never observe a partial blob.
func (s *DiskStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to publish blob: %w", err)
	}

	log.Debug().
		Str("key", key).
		Str("content_type", contentType).
		Int("bytes", len(data)).
		Msg("Blob uploaded")

	return s.URLFor(key), nil
}

// URLFor returns the public url of key
func (s *DiskStore) URLFor(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL is the inverse of URLFor
func (s *DiskStore) KeyFromURL(publicURL string) (string, error) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", fmt.Errorf("%w: url %q is not served by this store", ErrInvalidKey, publicURL)
	}
	key := strings.TrimPrefix(publicURL, prefix)
	if _, err := s.pathFor(key); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes the blob at key. Missing blobs are not an error.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	dest, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// DeleteURL removes the blob served at publicURL
func (s *DiskStore) DeleteURL(ctx context.Context, publicURL string) error {
	key, err := s.KeyFromURL(publicURL)
	if err != nil {
		return err
	}
	return s.Delete(ctx, key)
}
