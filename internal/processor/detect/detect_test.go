package detect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/processor"
)

func TestNewHTTPDetector_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "://bad"} {
		if _, err := NewHTTPDetector(u, nil); !errors.Is(err, processor.ErrInvalidConfig) {
			t.Errorf("NewHTTPDetector(%q) error = %v, want ErrInvalidConfig", u, err)
		}
	}
}

func TestHTTPDetector_Process(t *testing.T) {
	var gotKind, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/infer" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotKind = r.URL.Query().Get("kind")
		gotName = r.Header.Get("X-Filename")
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("annotated:" + string(body)))
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(srv.URL+"/", &processor.Config{TempDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.Process(context.Background(), &processor.Options{Kind: media.KindImage, Filename: "photo.jpg"}, strings.NewReader("pixels"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	defer res.Close()

	data, _ := io.ReadAll(res.Data)
	if string(data) != "annotated:pixels" {
		t.Errorf("body = %q", data)
	}
	if res.Size != int64(len("annotated:pixels")) {
		t.Errorf("Size = %d", res.Size)
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	if gotKind != "image" || gotName != "photo.jpg" {
		t.Errorf("server saw kind=%q name=%q", gotKind, gotName)
	}
}

func TestHTTPDetector_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := NewHTTPDetector(srv.URL, &processor.Config{TempDir: t.TempDir()})
	_, err := d.Process(context.Background(), &processor.Options{Kind: media.KindVideo, Filename: "clip.mp4"}, strings.NewReader("x"))
	if !errors.Is(err, ErrInferenceFailed) {
		t.Fatalf("Process() error = %v, want ErrInferenceFailed", err)
	}
	if !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("error should carry the server message: %v", err)
	}
}

func TestHTTPDetector_OversizedResult(t *testing.T) {
	tests := []struct {
		name    string
		chunked bool
	}{
		{"declared length", false},
		{"chunked body", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "video/mp4")
				if tt.chunked {
					_, _ = w.Write([]byte("0123456789"))
					w.(http.Flusher).Flush()
					_, _ = w.Write([]byte("abcdef"))
					return
				}
				_, _ = w.Write([]byte("0123456789abcdef"))
			}))
			defer srv.Close()

			tmp := t.TempDir()
			d, _ := NewHTTPDetector(srv.URL, &processor.Config{TempDir: tmp, MaxResultSize: 10})
			res, err := d.Process(context.Background(), &processor.Options{Kind: media.KindVideo, Filename: "clip.mp4"}, strings.NewReader("x"))
			if !errors.Is(err, ErrInferenceFailed) {
				t.Fatalf("Process() error = %v, want ErrInferenceFailed", err)
			}
			if res != nil {
				t.Errorf("Process() returned a truncated result of %d bytes", res.Size)
			}
			if entries, _ := os.ReadDir(tmp); len(entries) != 0 {
				t.Errorf("spool left behind: %v", entries)
			}
		})
	}
}

func TestHTTPDetector_ResultAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	d, _ := NewHTTPDetector(srv.URL, &processor.Config{TempDir: t.TempDir(), MaxResultSize: 10})
	res, err := d.Process(context.Background(), &processor.Options{Kind: media.KindImage, Filename: "a.jpg"}, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	defer res.Close()
	if res.Size != 10 {
		t.Errorf("Size = %d, want 10", res.Size)
	}
}

func TestHTTPDetector_Unload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/unload" {
			calls.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d, _ := NewHTTPDetector(srv.URL, nil)
	if err := d.Unload(context.Background()); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("unload calls = %d, want 1", calls.Load())
	}
}

func TestNewCommandDetector_Validation(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{"empty", ""},
		{"missing output", "cp {input}"},
		{"missing input", "cp x {output}"},
		{"unknown binary", "definitely-not-a-binary-ppe {input} {output}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCommandDetector(tt.template, nil); !errors.Is(err, processor.ErrInvalidConfig) {
				t.Errorf("NewCommandDetector(%q) error = %v, want ErrInvalidConfig", tt.template, err)
			}
		})
	}
}

func TestCommandDetector_Process(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}

	d, err := NewCommandDetector("cp {input} {output}", &processor.Config{TempDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.Process(context.Background(), &processor.Options{Kind: media.KindVideo, Filename: "clip.mp4"}, strings.NewReader("frames"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	data, _ := io.ReadAll(res.Data)
	if string(data) != "frames" {
		t.Errorf("output = %q, want %q", data, "frames")
	}
	if res.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	if err := res.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCommandDetector_NoOutput(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	d, err := NewCommandDetector("true {input} {output}", &processor.Config{TempDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Process(context.Background(), &processor.Options{Kind: media.KindImage, Filename: "a.jpg"}, strings.NewReader("x"))
	if !errors.Is(err, ErrInferenceFailed) {
		t.Errorf("Process() error = %v, want ErrInferenceFailed", err)
	}
}

func TestCommandDetector_OversizedResult(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}

	d, err := NewCommandDetector("cp {input} {output}", &processor.Config{TempDir: t.TempDir(), MaxResultSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Process(context.Background(), &processor.Options{Kind: media.KindImage, Filename: "a.jpg"}, strings.NewReader("too many bytes"))
	if !errors.Is(err, ErrInferenceFailed) {
		t.Errorf("Process() error = %v, want ErrInferenceFailed", err)
	}
}

func TestExpand(t *testing.T) {
	got := expand([]string{"--in={input}", "{output}", "--kind", "{kind}"}, map[string]string{
		"{input}":  "/tmp/a b/input.jpg",
		"{output}": "/tmp/out.jpg",
		"{kind}":   "image",
	})
	want := []string{"--in=/tmp/a b/input.jpg", "/tmp/out.jpg", "--kind", "image"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}
}
