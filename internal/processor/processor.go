package processor

import (
	"context"
	"errors"
	"io"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
)

var (
	ErrUnsupportedKind  = errors.New("processor: unsupported media kind")
	ErrProcessingFailed = errors.New("processor: processing failed")
	ErrInvalidConfig    = errors.New("processor: invalid configuration")
	ErrEmptyResult      = errors.New("processor: inference produced an empty result")
	ErrInvalidImage     = errors.New("processor: failed to load the image or image is empty")
)

// Processor turns one media file into another. Detectors annotate frames;
// the video transcoder normalizes the annotated output for playback.
type Processor interface {
	Process(ctx context.Context, opts *Options, input io.Reader) (*Result, error)
	SupportedKinds() []media.Kind
	Name() string
}

// Unloader is implemented by processors that hold model memory between calls.
type Unloader interface {
	Unload(ctx context.Context) error
}

type Options struct {
	Kind     media.Kind
	Filename string
}

type Result struct {
	Data        io.Reader
	ContentType string
	Size        int64
	Metadata    ResultMetadata
}

type ResultMetadata struct {
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	Format    string  `json:"format,omitempty"`
}

// Close releases whatever backs Data, typically a spooled temp file.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	if c, ok := r.Data.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type Config struct {
	TempDir string
	// MaxResultSize caps how much a detector may return.
	MaxResultSize int64
}

func DefaultConfig() *Config {
	return &Config{
		TempDir:       "",
		MaxResultSize: 2 << 30,
	}
}

func supports(p Processor, kind media.Kind) bool {
	for _, k := range p.SupportedKinds() {
		if k == kind {
			return true
		}
	}
	return false
}
