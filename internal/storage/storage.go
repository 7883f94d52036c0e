package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound     = errors.New("storage: file not found")
	ErrInvalidKey   = errors.New("storage: invalid key")
	ErrInvalidRange = errors.New("storage: invalid range")
	ErrChanged      = errors.New("storage: object changed while opening")
)

// retainUntilMeta is the user metadata key carrying the "do not reap before"
// marker. It is stored as RFC 3339.
const retainUntilMeta = "Retain-Until"

type Storage interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64, opts ...UploadOption) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// DownloadRange returns bytes start..end inclusive.
	DownloadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	HealthCheck(ctx context.Context) error
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	// RetainUntil is zero when the object carries no retention marker.
	RetainUntil time.Time
}

// Retained reports whether the object is still protected at now.
func (o ObjectInfo) Retained(now time.Time) bool {
	return !o.RetainUntil.IsZero() && now.Before(o.RetainUntil)
}

// Sized is implemented by Download and DownloadRange bodies that know the
// full size of the object version they were opened from.
type Sized interface {
	ObjectSize() int64
}

// ObjectSize reports the full object size behind a download body, looking
// through wrappers that expose Unwrap.
func ObjectSize(r io.Reader) (int64, bool) {
	for r != nil {
		if s, ok := r.(Sized); ok {
			return s.ObjectSize(), true
		}
		u, ok := r.(interface{ Unwrap() io.ReadCloser })
		if !ok {
			return 0, false
		}
		r = u.Unwrap()
	}
	return 0, false
}

type sizedBody struct {
	io.ReadCloser
	size int64
}

func (b sizedBody) ObjectSize() int64 { return b.size }

type uploadOptions struct {
	retainUntil time.Time
}

type UploadOption func(*uploadOptions)

// WithRetainUntil marks the object so the retention sweeper leaves it alone
// until t, regardless of its age.
func WithRetainUntil(t time.Time) UploadOption {
	return func(o *uploadOptions) {
		o.retainUntil = t
	}
}

func applyUploadOptions(opts []UploadOption) uploadOptions {
	var o uploadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validRange(start, end int64) bool {
	return start >= 0 && end >= start
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}
