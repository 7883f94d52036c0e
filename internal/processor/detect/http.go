// Package detect provides the person and protective-equipment detectors the
// inference adapter delegates to.
package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/processor"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrInferenceFailed = errors.New("detect: inference server error")

// checkSize rejects a result larger than limit. The spool is closed on failure.
func checkSize(spool *processor.SpoolFile, limit int64) error {
	if limit <= 0 || spool.Size() <= limit {
		return nil
	}
	size := spool.Size()
	_ = spool.Close()
	return fmt.Errorf("%w: result of %d bytes exceeds limit of %d", ErrInferenceFailed, size, limit)
}

// HTTPDetector sends media to a model server that runs person detection and
// per-person PPE detection and returns the annotated file.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
	config  *processor.Config
}

var (
	_ processor.Processor = (*HTTPDetector)(nil)
	_ processor.Unloader  = (*HTTPDetector)(nil)
)

func NewHTTPDetector(baseURL string, cfg *processor.Config) (*HTTPDetector, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: inference url %q", processor.ErrInvalidConfig, baseURL)
	}
	if cfg == nil {
		cfg = processor.DefaultConfig()
	}
	return &HTTPDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		config: cfg,
	}, nil
}

func (d *HTTPDetector) Name() string {
	return "ppe_http"
}

func (d *HTTPDetector) SupportedKinds() []media.Kind {
	return []media.Kind{media.KindImage, media.KindVideo}
}

func (d *HTTPDetector) Process(ctx context.Context, opts *processor.Options, input io.Reader) (*processor.Result, error) {
	endpoint := d.baseURL + "/v1/infer?" + url.Values{"kind": {opts.Kind.String()}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, input)
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", opts.Filename)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrInferenceFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	limit := d.config.MaxResultSize
	if limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: result of %d bytes exceeds limit of %d", ErrInferenceFailed, resp.ContentLength, limit)
	}

	// One byte past the limit is enough to tell an oversized result apart.
	body := io.Reader(resp.Body)
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}

	spool, err := processor.Spool(d.config.TempDir, "detect-*", body)
	if err != nil {
		return nil, err
	}
	if err := checkSize(spool, limit); err != nil {
		return nil, err
	}

	return &processor.Result{
		Data:        spool,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        spool.Size(),
	}, nil
}

// Unload asks the model server to drop its loaded weights.
func (d *HTTPDetector) Unload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/unload", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("unload: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unload: status %d", resp.StatusCode)
	}
	return nil
}
