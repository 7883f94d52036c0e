package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStorage is an in-process Storage used by tests and single-node dev
// runs. It is safe for concurrent use.
type MemoryStorage struct {
	mu    sync.RWMutex
	files map[string]memoryFile
	now   func() time.Time
}

type memoryFile struct {
	data         []byte
	contentType  string
	lastModified time.Time
	retainUntil  time.Time
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		files: make(map[string]memoryFile),
		now:   time.Now,
	}
}

// WithClock replaces the clock used to stamp LastModified.
func (s *MemoryStorage) WithClock(now func() time.Time) *MemoryStorage {
	s.now = now
	return s
}

func (s *MemoryStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64, opts ...UploadOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if key == "" {
		return ErrInvalidKey
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}

	o := applyUploadOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[key] = memoryFile{
		data:         data,
		contentType:  contentType,
		lastModified: s.now(),
		retainUntil:  o.retainUntil,
	}

	return nil
}

func (s *MemoryStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return nil, ErrNotFound
	}

	return sizedBody{ReadCloser: io.NopCloser(bytes.NewReader(file.data)), size: int64(len(file.data))}, nil
}

func (s *MemoryStorage) DownloadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validRange(start, end) {
		return nil, ErrInvalidRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return nil, ErrNotFound
	}

	size := int64(len(file.data))
	if start >= size {
		return nil, ErrInvalidRange
	}
	if end >= size {
		end = size - 1
	}

	return sizedBody{ReadCloser: io.NopCloser(bytes.NewReader(file.data[start : end+1])), size: size}, nil
}

func (s *MemoryStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return ObjectInfo{}, ErrNotFound
	}
	return file.info(key), nil
}

func (s *MemoryStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ObjectInfo, 0, len(s.files))
	for key, file := range s.files {
		if strings.HasPrefix(key, prefix) {
			out = append(out, file.info(key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.files, key)
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.files[key]
	return exists, nil
}

func (s *MemoryStorage) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.files[key]; !exists {
		return "", ErrNotFound
	}

	return fmt.Sprintf("http://test-storage/%s?expires=%d", url.PathEscape(key), int(expiry.Seconds())), nil
}

func (s *MemoryStorage) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (f memoryFile) info(key string) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(f.data)),
		ContentType:  f.contentType,
		LastModified: f.lastModified,
		RetainUntil:  f.retainUntil,
	}
}

// GetData returns the raw data for a key (test helper).
func (s *MemoryStorage) GetData(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return nil, false
	}
	return file.data, true
}

// GetContentType returns the content type for a key (test helper).
func (s *MemoryStorage) GetContentType(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[key]
	if !exists {
		return "", false
	}
	return file.contentType, true
}

// Touch overrides the LastModified stamp of a key (test helper).
func (s *MemoryStorage) Touch(key string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file, ok := s.files[key]; ok {
		file.lastModified = t
		s.files[key] = file
	}
}

// Count returns the number of stored files (test helper).
func (s *MemoryStorage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
