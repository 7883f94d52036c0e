package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/delivery"
	"github.com/abdul-hamid-achik/ppescan/internal/dispatch"
	"github.com/abdul-hamid-achik/ppescan/internal/ingest"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/storage"
	"github.com/abdul-hamid-achik/ppescan/internal/tracker"
)

const testBaseURL = "http://ppe.test"

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []pipeline.Task
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, task pipeline.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *recordingDispatcher) dispatched() []pipeline.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]pipeline.Task(nil), d.tasks...)
}

type testServer struct {
	handler    http.Handler
	store      *storage.MemoryStorage
	jobs       *tracker.Memory
	dispatcher *recordingDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := storage.NewMemoryStorage()
	jobs := tracker.NewMemory()
	d := &recordingDispatcher{}

	cfg := &Config{
		Ingest:             ingest.NewService(store, jobs, d, ingest.Config{MaxUploadSize: 1024, RetainFor: time.Minute}),
		Delivery:           delivery.NewService(store, jobs, delivery.Config{BaseURL: testBaseURL, PresignExpiry: time.Hour}),
		BaseURL:            testBaseURL,
		MaxUploadSize:      1024,
		StreamChunkTimeout: time.Second,
	}
	return &testServer{handler: NewRouter(cfg), store: store, jobs: jobs, dispatcher: d}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) put(t *testing.T, key string, data []byte) {
	t.Helper()
	if err := s.store.Upload(context.Background(), key, bytes.NewReader(data), media.ContentTypeFor(key), int64(len(data))); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func (s *testServer) job(t *testing.T, key, inputKey string, status tracker.Status) {
	t.Helper()
	kind, _ := media.KindFromFilename(inputKey)
	ctx := context.Background()
	if err := s.jobs.Create(ctx, tracker.Job{Key: key, InputKey: inputKey, OutputKey: media.OutputKey(inputKey), Kind: kind}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if status != tracker.StatusProcessing {
		if err := s.jobs.SetStatus(ctx, key, "", status, "boom"); err != nil {
			t.Fatalf("set status: %v", err)
		}
	}
}

func multipartBody(t *testing.T, fields map[string]string, fieldName, fileName string, data []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fieldName != "" {
		part, err := writer.CreateFormFile(fieldName, fileName)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write data: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestUploadHandler(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		fields     map[string]string
		fieldName  string
		fileName   string
		data       []byte
		dispatch   error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "image on root",
			path:       "/",
			fieldName:  "file",
			fileName:   "site photo.png",
			data:       []byte("PNG data"),
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "video on v1",
			path:       "/v1/upload",
			fieldName:  "file",
			fileName:   "walkthrough.mp4",
			data:       []byte("mp4 data"),
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "missing file part",
			path:       "/",
			fields:     map[string]string{"note": "no file"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_file",
		},
		{
			name:       "wrong field name",
			path:       "/",
			fieldName:  "upload",
			fileName:   "a.jpg",
			data:       []byte("x"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_file",
		},
		{
			name:       "disallowed extension",
			path:       "/v1/upload",
			fieldName:  "file",
			fileName:   "report.pdf",
			data:       []byte("%PDF"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_file_type",
		},
		{
			name:       "over the size limit",
			path:       "/v1/upload",
			fieldName:  "file",
			fileName:   "big.jpg",
			data:       bytes.Repeat([]byte("x"), 2048),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "file_too_large",
		},
		{
			name:       "queue full",
			path:       "/",
			fieldName:  "file",
			fileName:   "a.jpg",
			data:       []byte("x"),
			dispatch:   dispatch.ErrQueueFull,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "queue_full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.dispatcher.err = tt.dispatch

			body, contentType := multipartBody(t, tt.fields, tt.fieldName, tt.fileName, tt.data)
			req := httptest.NewRequest(http.MethodPost, tt.path, body)
			req.Header.Set("Content-Type", contentType)

			rec := srv.do(req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			resp := decode(t, rec)
			if tt.wantCode != "" {
				if resp["code"] != tt.wantCode {
					t.Errorf("code = %v, want %s", resp["code"], tt.wantCode)
				}
				if n := len(srv.dispatcher.dispatched()); n != 0 {
					t.Errorf("dispatched %d tasks on a rejected upload", n)
				}
				if tt.wantCode == "queue_full" && rec.Header().Get("Retry-After") == "" {
					t.Error("queue_full response is missing Retry-After")
				}
				return
			}

			for _, key := range []string{"job_key", "status", "status_url", "output_key", "media_kind"} {
				if _, ok := resp[key]; !ok {
					t.Errorf("response missing %q: %v", key, resp)
				}
			}
			if resp["status"] != string(tracker.StatusProcessing) {
				t.Errorf("status = %v, want processing", resp["status"])
			}

			tasks := srv.dispatcher.dispatched()
			if len(tasks) != 1 {
				t.Fatalf("dispatched %d tasks, want 1", len(tasks))
			}
			task := tasks[0]
			if task.JobKey != resp["job_key"] || task.OutputKey != resp["output_key"] {
				t.Errorf("task %+v does not match response %v", task, resp)
			}
			if task.OutputKey != "processed_"+task.InputKey {
				t.Errorf("output key %q not derived from input key %q", task.OutputKey, task.InputKey)
			}
			if _, ok := srv.store.GetData(task.InputKey); !ok {
				t.Errorf("original %q not stored", task.InputKey)
			}
			wantURL := testBaseURL + "/result/" + task.OutputKey + "?session_id=" + task.JobKey
			if resp["status_url"] != wantURL {
				t.Errorf("status_url = %v, want %s", resp["status_url"], wantURL)
			}
			if rec.Header().Get("Location") != wantURL {
				t.Errorf("Location = %q, want %q", rec.Header().Get("Location"), wantURL)
			}
		})
	}
}

func TestUploadHandler_SessionID(t *testing.T) {
	srv := newTestServer(t)

	body, contentType := multipartBody(t, map[string]string{"session_id": "sess-42"}, "file", "gloves.jpg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)

	rec := srv.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["job_key"]; got != "sess-42" {
		t.Errorf("job_key = %v, want sess-42", got)
	}
	if status, _ := srv.jobs.Status(context.Background(), "sess-42"); status != tracker.StatusProcessing {
		t.Errorf("tracker status = %s, want processing", status)
	}
}

func TestUploadHandler_NotMultipart(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", strings.NewReader(`{"file":"a.jpg"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := srv.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestJobStatusHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.job(t, "busy", "a.jpg", tracker.StatusProcessing)
	srv.job(t, "done", "b.jpg", tracker.StatusCompleted)
	srv.job(t, "failed", "c.jpg", tracker.StatusError)
	srv.put(t, "processed_b.jpg", []byte("annotated"))

	tests := []struct {
		jobKey     string
		wantStatus int
		wantState  tracker.Status
	}{
		{"busy", http.StatusOK, tracker.StatusProcessing},
		{"done", http.StatusOK, tracker.StatusCompleted},
		{"failed", http.StatusOK, tracker.StatusError},
		{"nobody", http.StatusNotFound, tracker.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.jobKey, func(t *testing.T) {
			rec := srv.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/"+tt.jobKey, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", rec.Header().Get("Cache-Control"))
			}
			body := decode(t, rec)
			if body["status"] != string(tt.wantState) {
				t.Errorf("status = %v, want %s", body["status"], tt.wantState)
			}
			if tt.wantState == tracker.StatusCompleted && body["url"] == nil {
				t.Errorf("completed image has no url: %v", body)
			}
			if tt.wantState == tracker.StatusError && body["error"] == nil {
				t.Errorf("error job has no reason: %v", body)
			}
		})
	}
}

func TestResultHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.job(t, "vid", "clip.mp4", tracker.StatusCompleted)

	t.Run("video completed", func(t *testing.T) {
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/result/processed_clip.mp4?session_id=vid", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := decode(t, rec)
		if body["stream_url"] != testBaseURL+"/stream/processed_clip.mp4" {
			t.Errorf("stream_url = %v", body["stream_url"])
		}
		if body["media_kind"] != "video" {
			t.Errorf("media_kind = %v, want video", body["media_kind"])
		}
	})

	t.Run("missing session id", func(t *testing.T) {
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/result/processed_clip.mp4", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("output key of another job", func(t *testing.T) {
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/result/processed_other.mp4?session_id=vid", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/result/processed_clip.mp4?session_id=ghost", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestStreamHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.put(t, "processed_clip.mp4", []byte("0123456789"))

	tests := []struct {
		name        string
		method      string
		key         string
		rangeHeader string
		wantStatus  int
		wantBody    string
		wantRange   string
		wantLength  string
	}{
		{"full", http.MethodGet, "processed_clip.mp4", "", http.StatusOK, "0123456789", "", "10"},
		{"closed range", http.MethodGet, "processed_clip.mp4", "bytes=2-5", http.StatusPartialContent, "2345", "bytes 2-5/10", "4"},
		{"open range", http.MethodGet, "processed_clip.mp4", "bytes=7-", http.StatusPartialContent, "789", "bytes 7-9/10", "3"},
		{"end clamped", http.MethodGet, "processed_clip.mp4", "bytes=8-500", http.StatusPartialContent, "89", "bytes 8-9/10", "2"},
		{"start past end", http.MethodGet, "processed_clip.mp4", "bytes=10-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10", ""},
		{"inverted", http.MethodGet, "processed_clip.mp4", "bytes=5-2", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10", ""},
		{"garbage", http.MethodGet, "processed_clip.mp4", "bytes=a-b", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10", ""},
		{"head", http.MethodHead, "processed_clip.mp4", "", http.StatusOK, "", "", "10"},
		{"missing blob", http.MethodGet, "processed_gone.mp4", "", http.StatusNotFound, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/stream/"+tt.key, nil)
			if tt.rangeHeader != "" {
				req.Header.Set("Range", tt.rangeHeader)
			}
			rec := srv.do(req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := rec.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.wantRange)
			}
			if rec.Code >= 400 {
				return
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if got := rec.Header().Get("Content-Length"); got != tt.wantLength {
				t.Errorf("Content-Length = %q, want %q", got, tt.wantLength)
			}
			headers := map[string]string{
				"Content-Type":        "video/mp4",
				"Accept-Ranges":       "bytes",
				"Content-Disposition": "inline",
				"Cache-Control":       "no-cache, no-store, must-revalidate",
				"Pragma":              "no-cache",
				"Expires":             "0",
			}
			for k, want := range headers {
				if got := rec.Header().Get(k); got != want {
					t.Errorf("%s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestDownloadHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.put(t, "processed_vest.jpg", []byte("annotated jpeg"))

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/download/processed_vest.jpg", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="processed_vest.jpg"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", got)
	}
	if rec.Body.String() != "annotated jpeg" {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/download/processed_missing.jpg", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing download status = %d, want 404", rec.Code)
	}
}

func TestHealthRoutes(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := srv.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health: status = %d, want 405", rec.Code)
	}
}
