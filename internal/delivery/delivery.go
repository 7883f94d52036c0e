// Package delivery reports job status and serves processed results, with
// byte-range support for video seeking.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/apperror"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/storage"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const presignCacheSize = 1024

type Config struct {
	// BaseURL prefixes stream and download references, e.g. https://ppe.example.com.
	BaseURL       string
	PresignExpiry time.Duration
}

type Service struct {
	storage  storage.Storage
	tracker  tracker.Tracker
	config   Config
	presigns *expirable.LRU[string, string]
}

func NewService(store storage.Storage, jobs tracker.Tracker, cfg Config) *Service {
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		storage: store,
		tracker: jobs,
		config:  cfg,
		// Cached URLs are handed out for at most half their lifetime so a
		// client always gets at least PresignExpiry/2 of validity.
		presigns: expirable.NewLRU[string, string](presignCacheSize, nil, cfg.PresignExpiry/2),
	}
}

// StatusView is the client-facing status of a job.
type StatusView struct {
	JobKey      string         `json:"job_key"`
	Status      tracker.Status `json:"status"`
	Kind        media.Kind     `json:"media_kind,omitempty"`
	OutputKey   string         `json:"output_key,omitempty"`
	URL         string         `json:"url,omitempty"`
	StreamURL   string         `json:"stream_url,omitempty"`
	DownloadURL string         `json:"download_url,omitempty"`
	Error       string         `json:"error,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// Status reads the tracker. Unknown keys report not_found. A completed
// image gets a presigned URL; a completed video gets a same-origin stream
// reference so seeking goes through range requests.
func (s *Service) Status(ctx context.Context, jobKey string) (StatusView, error) {
	job, err := tracker.Lookup(ctx, s.tracker, jobKey)
	metrics.RecordTrackerOperation("get", err)
	if err != nil {
		return StatusView{}, apperror.Wrap(fmt.Errorf("lookup job %s: %w", jobKey, err), apperror.ErrServiceUnavailable)
	}

	view := StatusView{JobKey: jobKey, Status: job.Status}
	if job.Status == tracker.StatusNotFound {
		return view, nil
	}
	view.Kind = job.Kind
	view.OutputKey = job.OutputKey
	if !job.UpdatedAt.IsZero() {
		updated := job.UpdatedAt
		view.UpdatedAt = &updated
	}

	switch job.Status {
	case tracker.StatusError:
		view.Error = job.Error
		if view.Error == "" {
			view.Error = "processing failed"
		}
	case tracker.StatusCompleted:
		view.DownloadURL = s.ref("download", job.OutputKey)
		if job.Kind == media.KindVideo {
			view.StreamURL = s.ref("stream", job.OutputKey)
			break
		}
		u, err := s.PresignedURL(ctx, job.OutputKey)
		if err != nil {
			logger.FromContext(ctx).Warn("presign failed, falling back to download reference", "output_key", job.OutputKey, "error", err)
			u = view.DownloadURL
		}
		view.URL = u
	}
	return view, nil
}

// PresignedURL returns a cached presigned URL for key, minting a new one when
// none is cached.
func (s *Service) PresignedURL(ctx context.Context, key string) (string, error) {
	if u, ok := s.presigns.Get(key); ok {
		return u, nil
	}
	u, err := s.storage.GetPresignedURL(ctx, key, s.config.PresignExpiry)
	if err != nil {
		return "", err
	}
	s.presigns.Add(key, u)
	return u, nil
}

// Forget drops a cached URL, e.g. after the object was deleted.
func (s *Service) Forget(key string) {
	s.presigns.Remove(key)
}

func (s *Service) ref(route, key string) string {
	return s.config.BaseURL + "/" + route + "/" + url.PathEscape(key)
}

// StreamResult is a full or partial object body plus the headers to send.
type StreamResult struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	Range       *ByteRange
}

func (r *StreamResult) Partial() bool {
	return r.Range != nil
}

func (r *StreamResult) StatusCode() int {
	if r.Partial() {
		return http.StatusPartialContent
	}
	return http.StatusOK
}

func (r *StreamResult) ContentLength() int64 {
	if r.Partial() {
		return r.Range.Length()
	}
	return r.Size
}

// WriteHeaders sets the stream headers. Caching is disabled because the
// sweeper may delete the object at any time.
func (r *StreamResult) WriteHeaders(h http.Header) {
	h.Set("Content-Type", r.ContentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(r.ContentLength(), 10))
	if r.Partial() {
		h.Set("Content-Range", r.Range.ContentRange())
	}
	h.Set("Content-Disposition", "inline")
	setNoCache(h)
}

func setNoCache(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// UnsatisfiableError carries the object size for the 416 Content-Range header.
type UnsatisfiableError struct {
	Size int64
	Err  error
}

func (e *UnsatisfiableError) Error() string { return e.Err.Error() }
func (e *UnsatisfiableError) Unwrap() error { return e.Err }

// Stream opens key for delivery. With an empty rangeHeader the whole object is
// returned; otherwise exactly the requested window is fetched from storage.
func (s *Service) Stream(ctx context.Context, key, rangeHeader string) (*StreamResult, error) {
	info, err := s.stat(ctx, key)
	if err != nil {
		return nil, err
	}

	// The object may be replaced between Stat and the fetch. The body reports
	// the size of the version actually opened; on a mismatch the range is
	// recomputed once against it.
	size := info.Size
	for attempt := 0; ; attempt++ {
		res := &StreamResult{ContentType: media.ContentTypeFor(key), Size: size}

		br, err := ParseRange(rangeHeader, size)
		if err != nil {
			metrics.RecordStream("unsatisfiable", 0)
			return nil, apperror.Wrap(&UnsatisfiableError{Size: size, Err: err}, apperror.ErrRangeNotSatisfiable)
		}

		if br == nil {
			res.Body, err = s.storage.Download(ctx, key)
		} else {
			res.Range = br
			res.Body, err = s.storage.DownloadRange(ctx, key, br.Start, br.End)
		}
		if err != nil {
			return nil, s.fetchError(key, err)
		}

		if actual, ok := storage.ObjectSize(res.Body); ok && actual != size {
			_ = res.Body.Close()
			if attempt > 0 {
				return nil, s.fetchError(key, storage.ErrChanged)
			}
			size = actual
			continue
		}

		if res.Partial() {
			metrics.RecordStream("partial", res.ContentLength())
		} else {
			metrics.RecordStream("full", res.ContentLength())
		}
		return res, nil
	}
}

// DownloadResult is a whole object served as an attachment.
type DownloadResult struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

func (r *DownloadResult) WriteHeaders(h http.Header) {
	h.Set("Content-Type", r.ContentType)
	h.Set("Content-Length", strconv.FormatInt(r.Size, 10))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", r.Filename))
	setNoCache(h)
}

func (s *Service) Download(ctx context.Context, key string) (*DownloadResult, error) {
	info, err := s.stat(ctx, key)
	if err != nil {
		return nil, err
	}
	body, err := s.storage.Download(ctx, key)
	if err != nil {
		return nil, s.fetchError(key, err)
	}
	size := info.Size
	if actual, ok := storage.ObjectSize(body); ok {
		size = actual
	}
	return &DownloadResult{
		Body:        body,
		Filename:    media.SanitizeFilename(key),
		ContentType: media.ContentTypeFor(key),
		Size:        size,
	}, nil
}

func (s *Service) stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if key == "" || media.SanitizeFilename(key) != key {
		return storage.ObjectInfo{}, apperror.ErrNotFound
	}
	info, err := s.storage.Stat(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, s.fetchError(key, err)
	}
	return info, nil
}

// fetchError reports any storage failure as not found, per the delivery
// contract, keeping the cause for the log.
func (s *Service) fetchError(key string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		s.Forget(key)
	}
	return apperror.Wrap(fmt.Errorf("fetch %s: %w", key, err), apperror.ErrNotFound)
}
