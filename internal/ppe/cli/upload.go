package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/ppe/output"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [files...]",
	Short: "Submit images or videos for PPE detection",
	Long: `Upload one or more files. Each upload becomes a background job; the
command returns as soon as the server has accepted it.

Allowed extensions: png, jpg, jpeg, mp4, avi, mov

Examples:
  ppe upload site.jpg                    # Single image
  ppe upload clips/*.mp4 -p 2            # Several videos, two at a time
  ppe upload gate.mov --watch            # Wait for the annotated result
  ppe upload gate.mov --session site-a   # Use your own job key`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var (
	uploadSession  string
	uploadParallel int
	uploadWatch    bool
	uploadDryRun   bool
)

func init() {
	uploadCmd.Flags().StringVarP(&uploadSession, "session", "s", "", "Job key to use (single file only; default: server generated)")
	uploadCmd.Flags().IntVarP(&uploadParallel, "parallel", "p", 2, "Parallel uploads")
	uploadCmd.Flags().BoolVarP(&uploadWatch, "watch", "w", false, "Wait for processing to finish")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "Show what would be uploaded")
}

type uploadResult struct {
	File      string `json:"file"`
	JobKey    string `json:"job_key,omitempty"`
	OutputKey string `json:"output_key,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type uploadSummary struct {
	Uploaded   []uploadResult `json:"uploaded"`
	Failed     []uploadResult `json:"failed"`
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no uploadable files (allowed: %v)", media.AllowedExtensions())
	}

	sessionID := uploadSession
	if sessionID == "" {
		sessionID = cfg.SessionID
	}
	if sessionID != "" && len(files) > 1 {
		return fmt.Errorf("--session can only be used with a single file")
	}

	if uploadDryRun {
		return printDryRun(files)
	}

	if len(files) == 1 {
		return uploadSingle(cmd, files[0], sessionID)
	}
	return uploadFiles(cmd, files, uploadParallel)
}

func uploadSingle(cmd *cobra.Command, path, sessionID string) error {
	ctx := commandContext(cmd)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	bar := output.NewTransfer(info.Size(), "Uploading "+filepath.Base(path),
		output.ProgressWithQuiet(quietMode || jsonOutput),
		output.ProgressWithOutput(cmd.ErrOrStderr()))
	resp, err := apiClient.Upload(ctx, path, sessionID, bar)
	bar.Finish()
	if err != nil {
		printer.UploadFailed(path, err)
		return err
	}

	if uploadWatch {
		return watchJob(cmd, resp.JobKey)
	}

	if jsonOutput {
		return printer.JSON(resp)
	}
	printer.JobAccepted(path, resp)
	printer.Info("Track it with: ppe status %s --watch", resp.JobKey)
	return nil
}

func uploadFiles(cmd *cobra.Command, files []string, parallel int) error {
	ctx := commandContext(cmd)
	if parallel < 1 {
		parallel = 1
	}

	printer.Line("Uploading %d files...", len(files))
	progress := output.NewBatch(len(files),
		output.ProgressWithQuiet(quietMode || jsonOutput),
		output.ProgressWithOutput(cmd.ErrOrStderr()))

	var (
		mu       sync.Mutex
		uploaded []uploadResult
		failed   []uploadResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, file := range files {
		g.Go(func() error {
			defer progress.Done()

			resp, err := apiClient.Upload(gctx, file, "", nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, uploadResult{File: file, Error: err.Error()})
				printer.UploadFailed(file, err)
				return nil
			}
			uploaded = append(uploaded, uploadResult{
				File:      file,
				JobKey:    resp.JobKey,
				OutputKey: resp.OutputKey,
				Status:    resp.Status,
			})
			printer.JobAccepted(file, resp)
			return nil
		})
	}
	_ = g.Wait()
	progress.Finish()

	if uploadWatch {
		for _, u := range uploaded {
			if err := watchJob(cmd, u.JobKey); err != nil {
				return err
			}
		}
	}

	if jsonOutput && !uploadWatch {
		if err := printer.JSON(uploadSummary{
			Uploaded:   uploaded,
			Failed:     failed,
			Total:      len(files),
			Successful: len(uploaded),
		}); err != nil {
			return err
		}
	}

	printer.UploadTotals(len(uploaded), len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("%d uploads failed", len(failed))
	}
	return nil
}

// collectFiles expands globs and keeps regular files the server will accept.
func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", arg, err)
		}

		if len(matches) == 0 {
			if _, err := os.Stat(arg); err != nil {
				return nil, fmt.Errorf("file not found: %s", arg)
			}
			matches = []string{arg}
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			if media.IsAllowed(match) {
				files = append(files, match)
			}
		}
	}

	return files, nil
}

func printDryRun(files []string) error {
	if jsonOutput {
		return printer.JSON(map[string]any{"files": files, "total": len(files)})
	}

	printer.DryRun(files)
	return nil
}
