package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/apperror"
	"github.com/abdul-hamid-achik/ppescan/internal/delivery"
	"github.com/abdul-hamid-achik/ppescan/internal/logger"
)

const streamChunkSize = 256 << 10

func streamHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		key := r.PathValue("outputKey")
		res, err := cfg.Delivery.Stream(ctx, key, r.Header.Get("Range"))
		if err != nil {
			var unsatisfiable *delivery.UnsatisfiableError
			if errors.As(err, &unsatisfiable) {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", unsatisfiable.Size))
			}
			apperror.WriteJSON(w, r, err)
			return
		}
		defer func() { _ = res.Body.Close() }()

		res.WriteHeaders(w.Header())
		w.WriteHeader(res.StatusCode())
		if r.Method == http.MethodHead {
			return
		}

		n, err := copyChunks(w, res.Body, cfg.StreamChunkTimeout, cancel)
		if err != nil {
			logger.FromContext(r.Context()).Debug("stream aborted",
				"output_key", key,
				"written", n,
				"expected", res.ContentLength(),
				"error", err,
			)
		}
	}
}

func downloadHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		key := r.PathValue("outputKey")
		res, err := cfg.Delivery.Download(ctx, key)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		defer func() { _ = res.Body.Close() }()

		res.WriteHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}

		if n, err := copyChunks(w, res.Body, cfg.StreamChunkTimeout, cancel); err != nil {
			logger.FromContext(r.Context()).Debug("download aborted", "output_key", key, "written", n, "error", err)
		}
	}
}

// copyChunks copies body to w one chunk at a time. With a positive timeout,
// each chunk must be read and written within it: the write side gets a
// connection deadline, and a stalled read calls cancel, which abandons the
// storage fetch behind body.
func copyChunks(w http.ResponseWriter, body io.Reader, timeout time.Duration, cancel context.CancelFunc) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, streamChunkSize)

	var watchdog *time.Timer
	if timeout > 0 {
		watchdog = time.AfterFunc(timeout, cancel)
		defer watchdog.Stop()
		defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()
	}

	var written int64
	for {
		if watchdog != nil {
			watchdog.Reset(timeout)
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if timeout > 0 {
				if err := rc.SetWriteDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
					return written, err
				}
			}
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, err
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
