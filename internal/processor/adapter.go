package processor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/abdul-hamid-achik/ppescan/internal/logger"
	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/disintegration/imaging"
)

// Adapter is the media inference entry point used by the background
// processor: image preflight, then the registry's chain for the media kind.
type Adapter struct {
	registry *Registry
	config   *Config
}

func NewAdapter(registry *Registry, cfg *Config) *Adapter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Adapter{registry: registry, config: cfg}
}

// Unload forwards to every registered processor that holds model memory.
func (a *Adapter) Unload(ctx context.Context) error {
	var errs []error
	for _, p := range a.registry.all() {
		if u, ok := p.(Unloader); ok {
			if err := u.Unload(ctx); err != nil {
				errs = append(errs, fmt.Errorf("unload %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Infer runs the detection pipeline over input. The caller must Close the
// returned result.
func (a *Adapter) Infer(ctx context.Context, input io.Reader, opts *Options) (*Result, error) {
	if opts == nil || !opts.Kind.Valid() {
		return nil, ErrUnsupportedKind
	}
	chain := a.registry.ForKind(opts.Kind)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no processor for %s", ErrUnsupportedKind, opts.Kind)
	}
	log := logger.FromContext(ctx)

	var meta ResultMetadata
	if opts.Kind == media.KindImage {
		spool, err := Spool(a.config.TempDir, "preflight-*", input)
		if err != nil {
			return nil, err
		}
		defer spool.Close()

		meta, err = preflightImage(spool)
		if err != nil {
			return nil, err
		}
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: rewind: %v", ErrProcessingFailed, err)
		}
		input = spool
	}

	var res *Result
	for i, p := range chain {
		stageInput := input
		if res != nil {
			stageInput = res.Data
		}
		out, err := p.Process(ctx, opts, stageInput)
		_ = res.Close()
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("detect with %s: %w", p.Name(), err)
			}
			return nil, fmt.Errorf("post-process with %s: %w", p.Name(), err)
		}
		if out == nil {
			return nil, ErrEmptyResult
		}
		res = out
		log.Debug("processor finished", "processor", p.Name(), "size", res.Size)
	}

	if res.Size <= 0 {
		_ = res.Close()
		return nil, ErrEmptyResult
	}
	if res.ContentType == "" {
		res.ContentType = media.ContentTypeFor(opts.Filename)
	}
	if res.Metadata.Width == 0 {
		res.Metadata.Width, res.Metadata.Height = meta.Width, meta.Height
	}
	return res, nil
}

func preflightImage(r io.Reader) (ResultMetadata, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return ResultMetadata{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return ResultMetadata{}, ErrInvalidImage
	}
	return ResultMetadata{Width: b.Dx(), Height: b.Dy()}, nil
}
