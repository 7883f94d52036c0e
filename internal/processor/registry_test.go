package processor

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/disintegration/imaging"
)

// mockProcessor is a test implementation of Processor.
type mockProcessor struct {
	name        string
	kinds       []media.Kind
	processFunc func(ctx context.Context, opts *Options, input io.Reader) (*Result, error)
	unloads     atomic.Int32
}

func newMockProcessor(name string, kinds ...media.Kind) *mockProcessor {
	return &mockProcessor{name: name, kinds: kinds}
}

func (m *mockProcessor) Name() string                 { return m.name }
func (m *mockProcessor) SupportedKinds() []media.Kind { return m.kinds }
func (m *mockProcessor) Process(ctx context.Context, opts *Options, input io.Reader) (*Result, error) {
	if m.processFunc != nil {
		return m.processFunc(ctx, opts, input)
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	return &Result{Data: bytes.NewReader(data), Size: int64(len(data))}, nil
}
func (m *mockProcessor) Unload(ctx context.Context) error {
	m.unloads.Add(1)
	return nil
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(newMockProcessor("ppe_http", media.KindImage, media.KindVideo))
	r.Register(newMockProcessor("video_transcode", media.KindVideo))

	if got := r.List(); len(got) != 2 || got[0] != "ppe_http" || got[1] != "video_transcode" {
		t.Errorf("List() = %v", got)
	}
	video := r.ForKind(media.KindVideo)
	if len(video) != 2 || video[0].Name() != "ppe_http" || video[1].Name() != "video_transcode" {
		t.Errorf("ForKind(video) = %v, want detector then transcoder", video)
	}
	if got := len(r.ForKind(media.KindImage)); got != 1 {
		t.Errorf("ForKind(image) = %d processors, want 1", got)
	}
	if got := r.ForKind("audio"); len(got) != 0 {
		t.Errorf("ForKind(audio) = %v, want empty", got)
	}
}

func TestRegistry_ReplaceKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register(newMockProcessor("det", media.KindVideo))
	r.Register(newMockProcessor("tc", media.KindVideo))
	replacement := newMockProcessor("det", media.KindVideo)
	r.Register(replacement)

	chain := r.ForKind(media.KindVideo)
	if len(chain) != 2 || chain[0] != Processor(replacement) {
		t.Errorf("ForKind(video) = %v, want replacement first", chain)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(newMockProcessor("p", media.KindImage))
		}()
		go func() {
			defer wg.Done()
			_ = r.ForKind(media.KindImage)
			_ = r.List()
		}()
	}
	wg.Wait()
	if got := r.List(); len(got) != 1 {
		t.Errorf("List() = %v, want one entry", got)
	}
}

func newAdapter(cfg *Config, processors ...Processor) *Adapter {
	r := NewRegistry()
	for _, p := range processors {
		r.Register(p)
	}
	return NewAdapter(r, cfg)
}

func TestAdapter_InferImage(t *testing.T) {
	detector := newMockProcessor("det", media.KindImage, media.KindVideo)
	a := newAdapter(&Config{TempDir: t.TempDir()}, detector)

	input := testJPEG(t, 64, 48)
	res, err := a.Infer(context.Background(), bytes.NewReader(input), &Options{Kind: media.KindImage, Filename: "photo.jpg"})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	defer res.Close()

	if res.Size != int64(len(input)) {
		t.Errorf("Size = %d, want %d", res.Size, len(input))
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	if res.Metadata.Width != 64 || res.Metadata.Height != 48 {
		t.Errorf("Metadata = %+v", res.Metadata)
	}
}

func TestAdapter_InferImage_Undecodable(t *testing.T) {
	called := false
	detector := newMockProcessor("det", media.KindImage)
	detector.processFunc = func(ctx context.Context, opts *Options, input io.Reader) (*Result, error) {
		called = true
		return nil, nil
	}
	a := newAdapter(&Config{TempDir: t.TempDir()}, detector)

	_, err := a.Infer(context.Background(), strings.NewReader("not an image"), &Options{Kind: media.KindImage, Filename: "x.png"})
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("Infer() error = %v, want ErrInvalidImage", err)
	}
	if called {
		t.Error("detector should not run when preflight fails")
	}
}

func TestAdapter_InferVideo_Transcodes(t *testing.T) {
	detector := newMockProcessor("det", media.KindImage, media.KindVideo)
	transcoder := newMockProcessor("tc", media.KindVideo)
	transcoder.processFunc = func(ctx context.Context, opts *Options, input io.Reader) (*Result, error) {
		data, _ := io.ReadAll(input)
		out := "h264:" + string(data)
		return &Result{Data: strings.NewReader(out), Size: int64(len(out)), ContentType: "video/mp4"}, nil
	}
	a := newAdapter(nil, detector, transcoder)

	res, err := a.Infer(context.Background(), strings.NewReader("frames"), &Options{Kind: media.KindVideo, Filename: "clip.mp4"})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	data, _ := io.ReadAll(res.Data)
	if string(data) != "h264:frames" {
		t.Errorf("output = %q", data)
	}
}

func TestAdapter_Errors(t *testing.T) {
	boom := errors.New("model exploded")

	tests := []struct {
		name    string
		kinds   []media.Kind
		process func(ctx context.Context, opts *Options, input io.Reader) (*Result, error)
		opts    *Options
		wantErr error
	}{
		{
			name:    "nil options",
			kinds:   []media.Kind{media.KindVideo},
			opts:    nil,
			wantErr: ErrUnsupportedKind,
		},
		{
			name:    "kind not supported by detector",
			kinds:   []media.Kind{media.KindImage},
			opts:    &Options{Kind: media.KindVideo},
			wantErr: ErrUnsupportedKind,
		},
		{
			name:  "detector failure propagates",
			kinds: []media.Kind{media.KindVideo},
			process: func(ctx context.Context, opts *Options, input io.Reader) (*Result, error) {
				return nil, boom
			},
			opts:    &Options{Kind: media.KindVideo, Filename: "clip.mp4"},
			wantErr: boom,
		},
		{
			name:  "empty output",
			kinds: []media.Kind{media.KindVideo},
			process: func(ctx context.Context, opts *Options, input io.Reader) (*Result, error) {
				return &Result{Data: strings.NewReader(""), Size: 0}, nil
			},
			opts:    &Options{Kind: media.KindVideo, Filename: "clip.mp4"},
			wantErr: ErrEmptyResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newMockProcessor("det", tt.kinds...)
			d.processFunc = tt.process
			a := newAdapter(nil, d)

			_, err := a.Infer(context.Background(), strings.NewReader("x"), tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Infer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdapter_ImageSkipsVideoOnlyStages(t *testing.T) {
	detector := newMockProcessor("det", media.KindImage, media.KindVideo)
	transcoderCalled := false
	transcoder := newMockProcessor("tc", media.KindVideo)
	transcoder.processFunc = func(ctx context.Context, opts *Options, input io.Reader) (*Result, error) {
		transcoderCalled = true
		return nil, errors.New("should not run")
	}
	a := newAdapter(&Config{TempDir: t.TempDir()}, detector, transcoder)

	res, err := a.Infer(context.Background(), bytes.NewReader(testJPEG(t, 8, 8)), &Options{Kind: media.KindImage, Filename: "a.jpg"})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	defer res.Close()
	if transcoderCalled {
		t.Error("video transcoder ran for an image")
	}
}

func TestAdapter_TranscoderFailure(t *testing.T) {
	boom := errors.New("ffmpeg exited 1")
	transcoder := newMockProcessor("tc", media.KindVideo)
	transcoder.processFunc = func(ctx context.Context, opts *Options, input io.Reader) (*Result, error) {
		return nil, boom
	}
	a := newAdapter(nil, newMockProcessor("det", media.KindVideo), transcoder)

	_, err := a.Infer(context.Background(), strings.NewReader("frames"), &Options{Kind: media.KindVideo, Filename: "clip.mp4"})
	if !errors.Is(err, boom) {
		t.Errorf("Infer() error = %v, want %v", err, boom)
	}
}

func TestAdapter_UnloadsEveryProcessor(t *testing.T) {
	det := newMockProcessor("det", media.KindImage)
	tc := newMockProcessor("tc", media.KindVideo)
	a := newAdapter(nil, det, tc)

	if err := a.Unload(context.Background()); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if det.unloads.Load() != 1 || tc.unloads.Load() != 1 {
		t.Errorf("unloads = %d/%d, want 1/1", det.unloads.Load(), tc.unloads.Load())
	}
}

func TestPool_BoundsSessionsAndUnloadsWhenIdle(t *testing.T) {
	detector := newMockProcessor("det", media.KindImage)
	p := NewPool(2, detector)
	ctx := context.Background()

	l1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	l2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("third Acquire() error = %v, want deadline exceeded", err)
	}

	l1.Release(ctx)
	if detector.unloads.Load() != 0 {
		t.Error("models unloaded while a lease is still active")
	}
	l1.Release(ctx)
	if p.Active() != 1 {
		t.Errorf("double release changed active count to %d", p.Active())
	}

	l2.Release(ctx)
	if detector.unloads.Load() != 1 {
		t.Errorf("unloads = %d, want 1", detector.unloads.Load())
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d, want 0", p.Active())
	}
}

func TestLease_ReleaseAfterCancel(t *testing.T) {
	detector := newMockProcessor("det", media.KindImage)
	p := NewPool(1, detector)

	ctx, cancel := context.WithCancel(context.Background())
	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	l.Release(ctx)

	if detector.unloads.Load() != 1 {
		t.Error("unload should still run for a cancelled job")
	}
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Errorf("session not returned: %v", err)
	}
}

func TestSpool(t *testing.T) {
	dir := t.TempDir()
	s, err := Spool(dir, "spool-*", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Size() != 5 {
		t.Errorf("Size() = %d, want 5", s.Size())
	}
	data, _ := io.ReadAll(s)
	if string(data) != "hello" {
		t.Errorf("read %q", data)
	}

	name := s.Name()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("spool file still exists after Close: %v", err)
	}
}
