package storage

import (
	"context"
	"io"
	"time"
)

// ReportRepository stores generated report files
type ReportRepository interface {
	Upload(ctx context.Context, objectPath string, data io.Reader, contentType string, size int64) (string, error)
	GeneratePresignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
}
