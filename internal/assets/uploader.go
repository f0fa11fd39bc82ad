// Package assets stages message attachments and uploads them to a backing
// store.
package assets

import (
	"context"
	"fmt"
	"io"

	"github.com/haasonsaas/parley/internal/config"
)

// Asset identifies an uploaded attachment.
type Asset struct {
	URL    string `json:"url"`
	FileID string `json:"fileId"`
}

// Uploader stores attachment bytes and releases them again.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader) (Asset, error)
	// Delete releases a previously uploaded asset. Deleting an unknown id
	// is not an error.
	Delete(ctx context.Context, fileID string) error
}

// NewUploader builds the uploader selected by cfg.Backend.
func NewUploader(ctx context.Context, cfg config.AssetsConfig) (Uploader, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalUploader(cfg.LocalPath, cfg.PublicBaseURL)
	case "s3":
		return NewS3Uploader(ctx, &S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported assets backend %q", cfg.Backend)
	}
}
