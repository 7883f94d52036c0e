package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/abdul-hamid-achik/ppescan/internal/apperror"
	"github.com/abdul-hamid-achik/ppescan/internal/ingest"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
)

const (
	// multipartOverhead leaves room for boundaries and form fields on top of
	// the file itself.
	multipartOverhead  = 1 << 20
	maxMultipartMemory = 32 << 20
)

var errMissingSessionID = apperror.New("missing_session_id", "The session_id query parameter is required", http.StatusBadRequest)

type uploadResponse struct {
	JobKey    string         `json:"job_key"`
	Status    tracker.Status `json:"status"`
	StatusURL string         `json:"status_url"`
	OutputKey string         `json:"output_key"`
	MediaKind media.Kind     `json:"media_kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func uploadHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize+multipartOverhead)
		}

		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrFileTooLarge))
				return
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrMissingFile))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrMissingFile))
			return
		}
		defer func() { _ = file.Close() }()

		job, err := cfg.Ingest.Accept(r.Context(), ingest.Upload{
			Reader:   file,
			Filename: header.Filename,
			Size:     header.Size,
			JobKey:   strings.TrimSpace(r.FormValue("session_id")),
		})
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		w.Header().Set("Location", statusURL(cfg.BaseURL, job))
		writeJSON(w, http.StatusAccepted, uploadResponse{
			JobKey:    job.Key,
			Status:    job.Status,
			StatusURL: statusURL(cfg.BaseURL, job),
			OutputKey: job.OutputKey,
			MediaKind: job.Kind,
		})
	}
}

func statusURL(baseURL string, job tracker.Job) string {
	return strings.TrimRight(baseURL, "/") + "/result/" + url.PathEscape(job.OutputKey) +
		"?session_id=" + url.QueryEscape(job.Key)
}

func jobStatusHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := cfg.Delivery.Status(r.Context(), r.PathValue("jobKey"))
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		if view.Status == tracker.StatusNotFound {
			writeJSON(w, http.StatusNotFound, view)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// resultHandler reports the job named by session_id. The output key in the
// path must belong to that job.
func resultHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobKey := r.URL.Query().Get("session_id")
		if jobKey == "" {
			apperror.WriteJSON(w, r, errMissingSessionID)
			return
		}

		view, err := cfg.Delivery.Status(r.Context(), jobKey)
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		switch {
		case view.Status == tracker.StatusNotFound:
			writeJSON(w, http.StatusNotFound, view)
		case view.OutputKey != r.PathValue("outputKey"):
			apperror.WriteJSON(w, r, apperror.ErrJobNotFound)
		default:
			writeJSON(w, http.StatusOK, view)
		}
	}
}
