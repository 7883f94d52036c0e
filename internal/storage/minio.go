package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Storage = (*MinIOStorage)(nil)

type MinIOStorage struct {
	client *minio.Client
	bucket string
	config *Config
}

func NewMinIOStorage(cfg *Config) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	log := logger.FromContext(ctx)

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Info("creating bucket", "bucket", s.bucket, "region", s.config.Region)
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{
			Region: s.config.Region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("bucket created", "bucket", s.bucket)
	}

	return nil
}

func (s *MinIOStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64, opts ...UploadOption) error {
	log := logger.FromContext(ctx)
	start := time.Now()

	if key == "" {
		return ErrInvalidKey
	}

	o := applyUploadOptions(opts)
	putOpts := minio.PutObjectOptions{ContentType: contentType}
	if !o.retainUntil.IsZero() {
		putOpts.UserMetadata = map[string]string{
			retainUntilMeta: o.retainUntil.UTC().Format(time.RFC3339),
		}
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, putOpts)
	if err != nil {
		log.Error("storage upload failed", "key", key, "size", size, "error", err)
		return fmt.Errorf("upload to %s: %w", key, err)
	}

	log.Debug("storage upload completed", "key", key, "size", size, "content_type", contentType, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *MinIOStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, info, err := s.get(ctx, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return sizedBody{ReadCloser: obj, size: info.Size}, nil
}

// DownloadRange pins the ranged read to the version it stats first, so the
// reported object size always matches the bytes served.
func (s *MinIOStorage) DownloadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if !validRange(start, end) {
		return nil, ErrInvalidRange
	}
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if start >= stat.Size {
		return nil, ErrInvalidRange
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if err := opts.SetMatchETag(stat.ETag); err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	obj, _, err := s.get(ctx, key, opts)
	if err != nil {
		return nil, err
	}
	return sizedBody{ReadCloser: obj, size: stat.Size}, nil
}

// get opens the object and forces a Stat so a missing key surfaces here
// instead of on the first Read.
func (s *MinIOStorage) get(ctx context.Context, key string, opts minio.GetObjectOptions) (*minio.Object, minio.ObjectInfo, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		log.Error("storage download failed", "key", key, "error", err)
		return nil, minio.ObjectInfo{}, fmt.Errorf("download %s: %w", key, err)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		switch {
		case isNotFoundError(err):
			log.Warn("storage object not found", "key", key)
			return nil, minio.ObjectInfo{}, ErrNotFound
		case minio.ToErrorResponse(err).Code == "PreconditionFailed":
			log.Warn("storage object replaced during read", "key", key)
			return nil, minio.ObjectInfo{}, ErrChanged
		}
		log.Error("storage stat failed", "key", key, "error", err)
		return nil, minio.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}

	log.Debug("storage download started", "key", key, "size", info.Size, "duration_ms", time.Since(start).Milliseconds())
	return obj, info, nil
}

func (s *MinIOStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFoundError(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return toObjectInfo(info), nil
}

func (s *MinIOStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, obj.Err)
		}
		out = append(out, toObjectInfo(obj))
	}
	return out, nil
}

func (s *MinIOStorage) Delete(ctx context.Context, key string) error {
	log := logger.FromContext(ctx)

	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		log.Error("storage delete failed", "key", key, "error", err)
		return fmt.Errorf("delete %s: %w", key, err)
	}

	log.Debug("storage object deleted", "key", key)
	return nil
}

func (s *MinIOStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("check exists %s: %w", key, err)
	}
	return true, nil
}

func (s *MinIOStorage) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	log := logger.FromContext(ctx)

	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		log.Error("storage presign failed", "key", key, "error", err)
		return "", fmt.Errorf("presign %s: %w", key, err)
	}

	log.Debug("storage presigned url generated", "key", key, "expiry", expiry.String())
	return url.String(), nil
}

func (s *MinIOStorage) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func toObjectInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		RetainUntil:  parseRetainUntil(info.UserMetadata),
	}
}

// parseRetainUntil tolerates both the stripped form returned by StatObject and
// the full X-Amz-Meta- header form some listings return.
func parseRetainUntil(meta map[string]string) time.Time {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if !strings.EqualFold(k, retainUntilMeta) {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchKey"
}
