package detect

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/processor"
)

// CommandDetector runs a local inference program once per job. The template
// is split on whitespace; {input}, {output} and {kind} are substituted per
// argument, so paths with spaces stay a single argument.
type CommandDetector struct {
	argv   []string
	config *processor.Config
}

var _ processor.Processor = (*CommandDetector)(nil)

func NewCommandDetector(template string, cfg *processor.Config) (*CommandDetector, error) {
	argv := strings.Fields(template)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty inference command", processor.ErrInvalidConfig)
	}
	if !strings.Contains(template, "{input}") || !strings.Contains(template, "{output}") {
		return nil, fmt.Errorf("%w: inference command needs {input} and {output}", processor.ErrInvalidConfig)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("%w: %v", processor.ErrInvalidConfig, err)
	}
	if cfg == nil {
		cfg = processor.DefaultConfig()
	}
	return &CommandDetector{argv: argv, config: cfg}, nil
}

func (d *CommandDetector) Name() string {
	return "ppe_command"
}

func (d *CommandDetector) SupportedKinds() []media.Kind {
	return []media.Kind{media.KindImage, media.KindVideo}
}

func (d *CommandDetector) Process(ctx context.Context, opts *processor.Options, input io.Reader) (*processor.Result, error) {
	tempDir, err := os.MkdirTemp(d.config.TempDir, "detect-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %v", processor.ErrProcessingFailed, err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(tempDir)
		}
	}()

	ext := filepath.Ext(opts.Filename)
	inputPath := filepath.Join(tempDir, "input"+ext)
	outputPath := filepath.Join(tempDir, "output"+ext)

	if err := writeFile(inputPath, input); err != nil {
		return nil, err
	}

	args := expand(d.argv[1:], map[string]string{
		"{input}":  inputPath,
		"{output}": outputPath,
		"{kind}":   opts.Kind.String(),
	})

	cmd := exec.CommandContext(ctx, d.argv[0], args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %s failed: %v, output: %s", ErrInferenceFailed, d.argv[0], err, tail(output, 512))
	}

	spool, err := processor.OpenSpool(outputPath, tempDir)
	if err != nil {
		return nil, fmt.Errorf("%w: no output written: %v", ErrInferenceFailed, err)
	}
	keep = true
	if err := checkSize(spool, d.config.MaxResultSize); err != nil {
		return nil, err
	}

	return &processor.Result{
		Data:        spool,
		ContentType: media.ContentTypeFor(opts.Filename),
		Size:        spool.Size(),
	}, nil
}

func expand(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		for k, v := range vars {
			a = strings.ReplaceAll(a, k, v)
		}
		out[i] = a
	}
	return out
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create input file: %v", processor.ErrProcessingFailed, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("%w: write input file: %v", processor.ErrProcessingFailed, err)
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
