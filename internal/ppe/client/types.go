package client

import (
	"io"
	"time"
)

// Job statuses reported by the server.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusNotFound   = "not_found"
)

type UploadResponse struct {
	JobKey    string `json:"job_key"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	OutputKey string `json:"output_key"`
	MediaKind string `json:"media_kind"`
}

type JobStatus struct {
	JobKey      string     `json:"job_key"`
	Status      string     `json:"status"`
	MediaKind   string     `json:"media_kind,omitempty"`
	OutputKey   string     `json:"output_key,omitempty"`
	URL         string     `json:"url,omitempty"`
	StreamURL   string     `json:"stream_url,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Done reports whether the job reached a state it will not leave.
func (s *JobStatus) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusError || s.Status == StatusNotFound
}

// Download is an open artifact body. Callers must close Body.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	ContentRange  string
	Filename      string
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
