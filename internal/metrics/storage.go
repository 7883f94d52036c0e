package metrics

import (
	"context"
	"io"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/storage"
)

// InstrumentedStorage records operation counts, durations and transferred
// bytes for every blob store call.
type InstrumentedStorage struct {
	storage.Storage
}

func NewInstrumentedStorage(s storage.Storage) *InstrumentedStorage {
	return &InstrumentedStorage{Storage: s}
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64, opts ...storage.UploadOption) error {
	start := time.Now()
	err := s.Storage.Upload(ctx, key, reader, contentType, size, opts...)
	observe("upload", start, err)
	if err == nil {
		StorageBytesTotal.WithLabelValues("upload").Add(float64(size))
	}
	return err
}

func (s *InstrumentedStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := s.Storage.Download(ctx, key)
	observe("download", start, err)
	if err != nil {
		return nil, err
	}
	return &instrumentedReadCloser{ReadCloser: reader, operation: "download"}, nil
}

func (s *InstrumentedStorage) DownloadRange(ctx context.Context, key string, startByte, endByte int64) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := s.Storage.DownloadRange(ctx, key, startByte, endByte)
	observe("download_range", start, err)
	if err != nil {
		return nil, err
	}
	return &instrumentedReadCloser{ReadCloser: reader, operation: "download_range"}, nil
}

func (s *InstrumentedStorage) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	start := time.Now()
	info, err := s.Storage.Stat(ctx, key)
	observe("stat", start, err)
	return info, err
}

func (s *InstrumentedStorage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	start := time.Now()
	objects, err := s.Storage.List(ctx, prefix)
	observe("list", start, err)
	return objects, err
}

func (s *InstrumentedStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Storage.Delete(ctx, key)
	observe("delete", start, err)
	return err
}

func (s *InstrumentedStorage) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := s.Storage.Exists(ctx, key)
	observe("exists", start, err)
	return exists, err
}

func (s *InstrumentedStorage) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	start := time.Now()
	url, err := s.Storage.GetPresignedURL(ctx, key, expiry)
	observe("presign", start, err)
	return url, err
}

type instrumentedReadCloser struct {
	io.ReadCloser
	operation string
	bytesRead int64
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	return n, err
}

func (r *instrumentedReadCloser) Unwrap() io.ReadCloser {
	return r.ReadCloser
}

func (r *instrumentedReadCloser) Close() error {
	StorageBytesTotal.WithLabelValues(r.operation).Add(float64(r.bytesRead))
	return r.ReadCloser.Close()
}
