package client

import (
	"context"
	"io"
	"time"
)

// ClientInterface defines all client operations for mocking in tests.
// The Client struct implements this interface.
type ClientInterface interface {
	BaseURL() string

	Upload(ctx context.Context, filePath, sessionID string, progress io.Writer) (*UploadResponse, error)
	JobStatus(ctx context.Context, jobKey string) (*JobStatus, error)
	Download(ctx context.Context, outputKey string) (*Download, error)
	Stream(ctx context.Context, outputKey, rangeSpec string) (*Download, error)

	WaitForJob(ctx context.Context, jobKey string, pollInterval, timeout time.Duration) (*JobStatus, error)
}

var _ ClientInterface = (*Client)(nil)
