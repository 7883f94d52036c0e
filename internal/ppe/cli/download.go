package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/ppescan/internal/ppe/client"
	"github.com/abdul-hamid-achik/ppescan/internal/ppe/output"
	"github.com/spf13/cobra"
)

// sanitizeFilename removes path traversal attempts and invalid characters from a filename.
// It returns an empty string if the filename is invalid or dangerous.
func sanitizeFilename(filename string) string {
	filename = filepath.Clean(filepath.Base(filename))

	if filename == "." || filename == ".." || filename == "" || filename == "/" {
		return ""
	}

	return strings.Map(func(r rune) rune {
		if r == 0 || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, filename)
}

// safePath ensures the final path stays within the target directory.
func safePath(baseDir, filename string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	sanitized := sanitizeFilename(filename)
	if sanitized == "" {
		return "", fmt.Errorf("invalid filename")
	}

	absPath, err := filepath.Abs(filepath.Join(absBase, sanitized))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return "", fmt.Errorf("path escapes target directory")
	}

	return absPath, nil
}

var downloadCmd = &cobra.Command{
	Use:   "download <output-key>",
	Short: "Download an annotated result",
	Long: `Download a processed artifact as an attachment. Results are reclaimed
by the server's retention sweep, so fetch them soon after the job completes.

Examples:
  ppe download processed_site.jpg              # Into the current directory
  ppe download processed_site.mp4 -o ./out/    # Into a directory
  ppe download processed_site.mp4 -o gate.mp4  # To a specific file`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

var streamCmd = &cobra.Command{
	Use:   "stream <output-key>",
	Short: "Fetch an annotated video (or part of it) through the range endpoint",
	Long: `Fetch a processed video through the byte-range streaming endpoint, the
same one a browser player seeks through.

Examples:
  ppe stream processed_site.mp4 -o site.mp4          # Whole video
  ppe stream processed_site.mp4 --range 0-1048575    # First MiB to stdout`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

var (
	downloadOutput string
	streamOutput   string
	streamRange    string
)

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file or directory")
	streamCmd.Flags().StringVarP(&streamOutput, "output", "o", "", "Output file (default: stdout)")
	streamCmd.Flags().StringVarP(&streamRange, "range", "r", "", "Byte range, e.g. 0-1023 or 500-")
}

func runDownload(cmd *cobra.Command, args []string) error {
	outputKey := args[0]

	dl, err := apiClient.Download(commandContext(cmd), outputKey)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("%s is not available (not finished yet or already reclaimed)", outputKey)
		}
		return fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = dl.Body.Close() }()

	name := dl.Filename
	if name == "" {
		name = outputKey
	}
	dest, err := resolveDestination(downloadOutput, name)
	if err != nil {
		return err
	}

	written, err := writeBody(cmd, dl, dest, "Downloading "+name)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printer.JSON(map[string]any{"output_key": outputKey, "path": dest, "bytes": written})
	}
	printer.Saved(dest, written, "")
	return nil
}

func runStream(cmd *cobra.Command, args []string) error {
	outputKey := args[0]

	dl, err := apiClient.Stream(commandContext(cmd), outputKey, streamRange)
	if err != nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	defer func() { _ = dl.Body.Close() }()

	if streamOutput == "" {
		_, err := io.Copy(cmd.OutOrStdout(), dl.Body)
		return err
	}

	written, err := writeBody(cmd, dl, streamOutput, "Streaming "+outputKey)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printer.JSON(map[string]any{"output_key": outputKey, "path": streamOutput, "bytes": written, "content_range": dl.ContentRange})
	}
	printer.Saved(streamOutput, written, dl.ContentRange)
	return nil
}

// resolveDestination maps the -o flag to a file path. An empty flag or an
// existing directory keeps the server's filename.
func resolveDestination(flag, name string) (string, error) {
	if flag == "" {
		return safePath(".", name)
	}
	if info, err := os.Stat(flag); err == nil && info.IsDir() {
		return safePath(flag, name)
	}
	if strings.HasSuffix(flag, string(filepath.Separator)) {
		if err := os.MkdirAll(flag, 0755); err != nil {
			return "", err
		}
		return safePath(flag, name)
	}
	return flag, nil
}

func writeBody(cmd *cobra.Command, dl *client.Download, dest, label string) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	bar := output.NewTransfer(dl.ContentLength, label,
		output.ProgressWithQuiet(quietMode || jsonOutput),
		output.ProgressWithOutput(cmd.ErrOrStderr()))
	written, err := io.Copy(io.MultiWriter(f, bar), dl.Body)
	bar.Finish()

	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		return written, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return written, nil
}
