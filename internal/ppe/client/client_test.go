package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:8080/")
	if c.BaseURL() != "http://localhost:8080" {
		t.Errorf("BaseURL() = %s, want http://localhost:8080", c.BaseURL())
	}
}

func TestClient_Upload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/v1/upload" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("session_id"); got != "sess-1" {
			t.Errorf("session_id = %q, want sess-1", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("failed to get file: %v", err)
		}
		defer file.Close()

		if header.Filename != "site.jpg" {
			t.Errorf("filename = %s, want site.jpg", header.Filename)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(UploadResponse{
			JobKey:    "sess-1",
			Status:    StatusProcessing,
			OutputKey: "processed_site.jpg",
			MediaKind: "image",
		})
	}))
	defer server.Close()

	testFile := filepath.Join(t.TempDir(), "site.jpg")
	os.WriteFile(testFile, []byte("jpeg bytes"), 0644)

	var progress bytes.Buffer
	c := New(server.URL)
	resp, err := c.Upload(context.Background(), testFile, "sess-1", &progress)
	if err != nil {
		t.Fatalf("Upload error = %v", err)
	}

	if resp.JobKey != "sess-1" {
		t.Errorf("JobKey = %s, want sess-1", resp.JobKey)
	}
	if resp.OutputKey != "processed_site.jpg" {
		t.Errorf("OutputKey = %s, want processed_site.jpg", resp.OutputKey)
	}
	if progress.String() != "jpeg bytes" {
		t.Errorf("progress saw %q, want the file contents", progress.String())
	}
}

func TestClient_Upload_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:   "Bad Request",
			Code:    "invalid_file_type",
			Message: "File type not allowed",
		})
	}))
	defer server.Close()

	testFile := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(testFile, []byte("text"), 0644)

	c := New(server.URL)
	_, err := c.Upload(context.Background(), testFile, "", nil)
	if err == nil {
		t.Fatal("expected error for rejected upload")
	}
	if err.Error() != "invalid_file_type: File type not allowed" {
		t.Errorf("Error = %q", err.Error())
	}
}

func TestClient_Upload_MissingFile(t *testing.T) {
	c := New("http://127.0.0.1:0")
	if _, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"), "", nil); err == nil {
		t.Fatal("expected error for missing local file")
	}
}

func TestClient_JobStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "completed",
			statusCode: http.StatusOK,
			body:       `{"job_key":"k","status":"completed","output_key":"processed_a.mp4","stream_url":"/stream/processed_a.mp4"}`,
			wantStatus: StatusCompleted,
		},
		{
			name:       "unknown job",
			statusCode: http.StatusNotFound,
			body:       `{"job_key":"k","status":"not_found"}`,
			wantStatus: StatusNotFound,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			body:       `{"error":"Internal Server Error","code":"internal_error","message":"An unexpected error occurred"}`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/jobs/k" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			status, err := New(server.URL).JobStatus(context.Background(), "k")
			if (err != nil) != tt.wantErr {
				t.Fatalf("JobStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", status.Status, tt.wantStatus)
			}
		})
	}
}

func TestClient_Stream_SendsRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream/processed_clip.mp4" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Range"); got != "bytes=0-3" {
			t.Errorf("Range = %q, want bytes=0-3", got)
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.Header().Set("Content-Length", "4")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "0123")
	}))
	defer server.Close()

	dl, err := New(server.URL).Stream(context.Background(), "processed_clip.mp4", "0-3")
	if err != nil {
		t.Fatalf("Stream error = %v", err)
	}
	defer dl.Body.Close()

	body, _ := io.ReadAll(dl.Body)
	if string(body) != "0123" {
		t.Errorf("body = %q, want 0123", body)
	}
	if dl.ContentRange != "bytes 0-3/10" {
		t.Errorf("ContentRange = %q", dl.ContentRange)
	}
	if dl.ContentLength != 4 {
		t.Errorf("ContentLength = %d, want 4", dl.ContentLength)
	}
}

func TestClient_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/processed_site.jpg" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="processed_site.jpg"`)
		io.WriteString(w, "img")
	}))
	defer server.Close()

	dl, err := New(server.URL).Download(context.Background(), "processed_site.jpg")
	if err != nil {
		t.Fatalf("Download error = %v", err)
	}
	defer dl.Body.Close()

	if dl.Filename != "processed_site.jpg" {
		t.Errorf("Filename = %q, want processed_site.jpg", dl.Filename)
	}
}

func TestClient_Download_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"Not Found","code":"not_found","message":"Resource not found"}`)
	}))
	defer server.Close()

	_, err := New(server.URL).Download(context.Background(), "processed_gone.jpg")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
	if err.Error() != "not_found: Resource not found" {
		t.Errorf("Error = %q, want 'not_found: Resource not found'", err.Error())
	}
}

func TestClient_WaitForJob(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := StatusProcessing
		if calls.Add(1) >= 3 {
			status = StatusCompleted
		}
		json.NewEncoder(w).Encode(JobStatus{JobKey: "k", Status: status})
	}))
	defer server.Close()

	status, err := New(server.URL).WaitForJob(context.Background(), "k", 10*time.Millisecond, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForJob error = %v", err)
	}

	if status.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", status.Status)
	}
	if calls.Load() < 3 {
		t.Errorf("Expected at least 3 API calls, got %d", calls.Load())
	}
}

func TestClient_WaitForJob_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JobStatus{JobKey: "k", Status: StatusProcessing})
	}))
	defer server.Close()

	_, err := New(server.URL).WaitForJob(context.Background(), "k", 5*time.Millisecond, 30*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForJob error = %v, want context.DeadlineExceeded", err)
	}
}
