package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/adapter"
)

var _ adapter.BlobStore = (*FileStore)(nil)

// FileStore persists artifacts on the local filesystem and serves them via a
// configured public base URL. Writes are once per key: an existing artifact
// is never overwritten. When fetchRemote is false, StoreFromURL records the
// remote URL as a pass-through reference instead of downloading.
type FileStore struct {
	basePath    string
	baseURL     string
	fetchRemote bool
	client      *http.Client
}

func NewFileStore(basePath, baseURL string, fetchRemote bool) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("blob: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("blob: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:    basePath,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		fetchRemote: fetchRemote,
		client:      &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (s *FileStore) StoreBytes(ctx context.Context, key string, data []byte) (model.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return model.BlobRef{}, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return model.BlobRef{}, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if _, err := os.Stat(fullPath); err == nil {
		// Write-once: the first artifact for a key wins.
		return model.BlobRef{Key: cleanKey}, nil
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return model.BlobRef{}, fmt.Errorf("blob: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return model.BlobRef{}, fmt.Errorf("blob: write file: %w", err)
	}
	return model.BlobRef{Key: cleanKey}, nil
}

func (s *FileStore) StoreFromURL(ctx context.Context, key, url string) (model.BlobRef, error) {
	if url == "" {
		return model.BlobRef{}, errors.New("blob: url is required")
	}
	if !s.fetchRemote {
		return model.BlobRef{URL: url}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.BlobRef{}, fmt.Errorf("blob: build fetch request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return model.BlobRef{}, fmt.Errorf("blob: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.BlobRef{}, fmt.Errorf("blob: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.BlobRef{}, fmt.Errorf("blob: read remote body: %w", err)
	}
	ref, err := s.StoreBytes(ctx, key, data)
	if err != nil {
		return model.BlobRef{}, err
	}
	ref.URL = url
	return ref, nil
}

func (s *FileStore) Bytes(ctx context.Context, ref model.BlobRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.Key == "" {
		return nil, domain.ErrNotFound
	}
	cleanKey, err := sanitizeKey(ref.Key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("blob: read file: %w", err)
	}
	return data, nil
}

func (s *FileStore) DirectURL(ref model.BlobRef) string {
	if ref.Key != "" && s.baseURL != "" {
		return s.baseURL + "/" + ref.Key
	}
	return ref.URL
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("blob: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("blob: invalid key")
	}
	return cleaned, nil
}
