package ports

import (
	"context"
	"time"
)

// File is the consumed port for attachment/report blob storage.
type File interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	GetURL(ctx context.Context, path string, expiresIn time.Duration) (string, error)
}
