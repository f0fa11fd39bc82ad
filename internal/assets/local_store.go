package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalUploader stores attachments on the local filesystem and serves them
// over HTTP.
type LocalUploader struct {
	basePath string
	baseURL  string
}

// NewLocalUploader creates a local disk uploader rooted at basePath. URLs are
// built from publicBaseURL, which defaults to "/files".
func NewLocalUploader(basePath, publicBaseURL string) (*LocalUploader, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("local asset path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	baseURL := strings.TrimRight(publicBaseURL, "/")
	if baseURL == "" {
		baseURL = "/files"
	}
	return &LocalUploader{basePath: basePath, baseURL: baseURL}, nil
}

// Upload writes the attachment under base/YYYY/MM/DD/name.
func (s *LocalUploader) Upload(ctx context.Context, name string, body io.Reader) (Asset, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return Asset{}, fmt.Errorf("invalid asset name %q", name)
	}

	now := time.Now()
	rel := path.Join(
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
		name)
	dst := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Asset{}, fmt.Errorf("create asset dir: %w", err)
	}

	// Write to temp file first, then atomic rename
	if err := writeFileAtomic(dst, body); err != nil {
		return Asset{}, err
	}
	return Asset{URL: s.baseURL + "/" + rel, FileID: rel}, nil
}

// Delete removes an uploaded file.
func (s *LocalUploader) Delete(ctx context.Context, fileID string) error {
	p, err := s.resolve(fileID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove asset: %w", err)
	}
	return nil
}

// Handler serves uploaded files. Mount it with the prefix stripped.
func (s *LocalUploader) Handler() http.Handler {
	return http.FileServer(http.Dir(s.basePath))
}

func (s *LocalUploader) resolve(fileID string) (string, error) {
	clean := path.Clean("/" + fileID)
	if clean == "/" {
		return "", fmt.Errorf("invalid file id %q", fileID)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func writeFileAtomic(dst string, body io.Reader) error {
	tmpPath := dst + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("write asset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("close asset: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename asset: %w", err)
	}
	return nil
}
