// Package ingest accepts uploads: it stores the original, registers the job
// and hands it to a dispatcher without waiting for processing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/apperror"
	"github.com/abdul-hamid-achik/ppescan/internal/dispatch"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/metrics"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/storage"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
	"github.com/google/uuid"
)

const (
	maxJobKeyLength = 128
	cleanupTimeout  = 10 * time.Second
)

var errTooLarge = errors.New("ingest: upload exceeds size limit")

type Upload struct {
	Reader   io.Reader
	Filename string
	// Size is the declared length in bytes, or -1 when unknown.
	Size int64
	// JobKey is the caller's session id. A random key is generated when empty.
	JobKey string
}

type Config struct {
	MaxUploadSize int64
	// RetainFor protects a fresh original from the sweeper for this long.
	RetainFor time.Duration
}

type Service struct {
	storage    storage.Storage
	tracker    tracker.Tracker
	dispatcher dispatch.Dispatcher
	config     Config
	now        func() time.Time
	newKey     func() string
	newAttempt func() string
}

func NewService(store storage.Storage, jobs tracker.Tracker, d dispatch.Dispatcher, cfg Config) *Service {
	return &Service{
		storage:    store,
		tracker:    jobs,
		dispatcher: d,
		config:     cfg,
		now:        time.Now,
		newKey:     uuid.NewString,
		newAttempt: uuid.NewString,
	}
}

// Accept validates and stores the upload, registers it as processing and
// dispatches it. Errors are *apperror.Error values ready for the client.
func (s *Service) Accept(ctx context.Context, up Upload) (tracker.Job, error) {
	if up.Reader == nil || up.Filename == "" {
		return tracker.Job{}, apperror.ErrMissingFile
	}
	if !media.IsAllowed(up.Filename) {
		metrics.RecordUpload("unknown", "rejected", 0)
		return tracker.Job{}, apperror.ErrInvalidFileType
	}
	if s.config.MaxUploadSize > 0 && up.Size > s.config.MaxUploadSize {
		metrics.RecordUpload("unknown", "rejected", 0)
		return tracker.Job{}, apperror.ErrFileTooLarge
	}

	inputKey := media.SanitizeFilename(up.Filename)
	kind, ok := media.KindFromFilename(inputKey)
	if !ok {
		metrics.RecordUpload("unknown", "rejected", 0)
		return tracker.Job{}, apperror.Wrap(fmt.Errorf("sanitized name %q lost its extension", inputKey), apperror.ErrInvalidFileType)
	}

	jobKey := up.JobKey
	if jobKey == "" {
		jobKey = s.newKey()
	}
	if len(jobKey) > maxJobKeyLength {
		return tracker.Job{}, apperror.New("invalid_session_id", "Session id is too long", apperror.ErrBadRequest.StatusCode)
	}

	job := tracker.Job{
		Key:       jobKey,
		Attempt:   s.newAttempt(),
		InputKey:  inputKey,
		OutputKey: media.OutputKey(inputKey),
		Kind:      kind,
		Status:    tracker.StatusProcessing,
		CreatedAt: s.now().UTC(),
	}
	ctx = logger.WithJobKey(ctx, jobKey)
	log := logger.FromContext(ctx).With("input_key", job.InputKey, "kind", kind.String())

	reader := up.Reader
	if s.config.MaxUploadSize > 0 {
		reader = &limitedReader{r: reader, remaining: s.config.MaxUploadSize}
	}

	var opts []storage.UploadOption
	if s.config.RetainFor > 0 {
		opts = append(opts, storage.WithRetainUntil(s.now().Add(s.config.RetainFor)))
	}
	if err := s.storage.Upload(ctx, job.InputKey, reader, media.ContentTypeFor(job.InputKey), up.Size, opts...); err != nil {
		if errors.Is(err, errTooLarge) {
			metrics.RecordUpload(kind.String(), "rejected", 0)
			s.removeOriginal(ctx, job.InputKey)
			return tracker.Job{}, apperror.ErrFileTooLarge
		}
		metrics.RecordUpload(kind.String(), "error", 0)
		return tracker.Job{}, apperror.Wrap(fmt.Errorf("store original: %w", err), apperror.ErrStorage)
	}

	err := s.tracker.Create(ctx, job)
	metrics.RecordTrackerOperation("create", err)
	if err != nil {
		s.removeOriginal(ctx, job.InputKey)
		metrics.RecordUpload(kind.String(), "error", 0)
		return tracker.Job{}, apperror.Wrap(fmt.Errorf("register job: %w", err), apperror.ErrServiceUnavailable)
	}

	task := pipeline.Task{JobKey: job.Key, Attempt: job.Attempt, InputKey: job.InputKey, OutputKey: job.OutputKey, Kind: job.Kind}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		s.abandon(ctx, job, err)
		metrics.RecordUpload(kind.String(), "rejected", 0)
		if errors.Is(err, dispatch.ErrQueueFull) || errors.Is(err, dispatch.ErrClosed) {
			return tracker.Job{}, apperror.Wrap(err, apperror.ErrQueueFull)
		}
		return tracker.Job{}, apperror.Wrap(fmt.Errorf("dispatch job: %w", err), apperror.ErrServiceUnavailable)
	}

	size := up.Size
	if lr, ok := reader.(*limitedReader); ok {
		size = lr.read
	}
	metrics.RecordUpload(kind.String(), "accepted", size)
	log.Info("upload accepted", "size", size)
	return job, nil
}

// abandon finalizes a job that could not be dispatched so it never appears
// stuck in processing.
func (s *Service) abandon(ctx context.Context, job tracker.Job, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := s.tracker.SetStatus(cctx, job.Key, job.Attempt, tracker.StatusError, "dispatch failed: "+cause.Error())
	metrics.RecordTrackerOperation("set_status", err)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to mark undispatched job", "error", err)
	}
	s.removeOriginal(cctx, job.InputKey)
}

func (s *Service) removeOriginal(ctx context.Context, key string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.storage.Delete(cctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.FromContext(ctx).Warn("failed to remove original", "input_key", key, "error", err)
	}
}

// limitedReader fails once more than remaining bytes have been read, so an
// undeclared or lying Content-Length cannot push past the upload cap.
type limitedReader struct {
	r         io.Reader
	remaining int64
	read      int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
