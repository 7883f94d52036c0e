package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

type progressConfig struct {
	out   io.Writer
	quiet bool
}

type ProgressOption func(*progressConfig)

func ProgressWithQuiet(quiet bool) ProgressOption {
	return func(c *progressConfig) { c.quiet = quiet }
}

func ProgressWithOutput(out io.Writer) ProgressOption {
	return func(c *progressConfig) { c.out = out }
}

// newBar returns nil in quiet mode; every method below tolerates that.
func newBar(total int64, description string, opts []ProgressOption, extra ...progressbar.Option) *progressbar.ProgressBar {
	cfg := progressConfig{out: os.Stderr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.quiet {
		return nil
	}

	base := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionThrottle(65 * time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(cfg.out, "\n")
		}),
	}
	return progressbar.NewOptions64(total, append(base, extra...)...)
}

func finish(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}

func barTheme(c string) progressbar.Option {
	return progressbar.OptionSetTheme(progressbar.Theme{
		Saucer:        "[" + c + "]=[reset]",
		SaucerHead:    "[" + c + "]>[reset]",
		SaucerPadding: " ",
		BarStart:      "[",
		BarEnd:        "]",
	})
}

// Batch counts files handed to the server in a multi-file upload.
type Batch struct {
	bar *progressbar.ProgressBar
}

func NewBatch(files int, opts ...ProgressOption) *Batch {
	return &Batch{bar: newBar(int64(files), "Uploading", opts,
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		barTheme("green"),
	)}
}

// Done marks one file as settled, accepted or not.
func (b *Batch) Done() {
	if b.bar != nil {
		_ = b.bar.Add(1)
	}
}

func (b *Batch) Finish() { finish(b.bar) }

// Watch is the spinner shown while a job is polled.
type Watch struct {
	bar *progressbar.ProgressBar
}

func NewWatch(jobKey string, opts ...ProgressOption) *Watch {
	return &Watch{bar: newBar(-1, fmt.Sprintf("Watching %s...", jobKey), opts,
		progressbar.OptionSpinnerType(14),
	)}
}

// Status shows the job's latest reported status.
func (w *Watch) Status(status string) {
	w.describe(fmt.Sprintf("Status: %s", status))
}

// Unreachable shows a failed poll and how many more are tolerated.
func (w *Watch) Unreachable(failures, limit int) {
	w.describe(fmt.Sprintf("Status: unreachable (%d/%d retries)", failures, limit))
}

func (w *Watch) describe(text string) {
	if w.bar != nil {
		w.bar.Describe(text)
		_ = w.bar.Add(1)
	}
}

func (w *Watch) Finish() { finish(w.bar) }

// Transfer advances a byte bar as it is written to, so it can sit in an
// io.MultiWriter or be handed to the client as an upload progress sink. A
// negative total renders a running byte count.
type Transfer struct {
	bar *progressbar.ProgressBar
}

func NewTransfer(total int64, label string, opts ...ProgressOption) *Transfer {
	return &Transfer{bar: newBar(total, label, opts,
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionFullWidth(),
		barTheme("cyan"),
	)}
}

func (t *Transfer) Write(b []byte) (int, error) {
	if t.bar != nil {
		_ = t.bar.Add(len(b))
	}
	return len(b), nil
}

func (t *Transfer) Finish() { finish(t.bar) }
