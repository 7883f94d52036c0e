package client

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of ClientInterface for testing.
type MockClient struct {
	mock.Mock
}

var _ ClientInterface = (*MockClient)(nil)

func (m *MockClient) BaseURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) Upload(ctx context.Context, filePath, sessionID string, progress io.Writer) (*UploadResponse, error) {
	args := m.Called(ctx, filePath, sessionID, progress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UploadResponse), args.Error(1)
}

func (m *MockClient) JobStatus(ctx context.Context, jobKey string) (*JobStatus, error) {
	args := m.Called(ctx, jobKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*JobStatus), args.Error(1)
}

func (m *MockClient) Download(ctx context.Context, outputKey string) (*Download, error) {
	args := m.Called(ctx, outputKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Download), args.Error(1)
}

func (m *MockClient) Stream(ctx context.Context, outputKey, rangeSpec string) (*Download, error) {
	args := m.Called(ctx, outputKey, rangeSpec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Download), args.Error(1)
}

func (m *MockClient) WaitForJob(ctx context.Context, jobKey string, pollInterval, timeout time.Duration) (*JobStatus, error) {
	args := m.Called(ctx, jobKey, pollInterval, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*JobStatus), args.Error(1)
}
