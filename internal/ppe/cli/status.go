package cli

import (
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/ppe/client"
	"github.com/abdul-hamid-achik/ppescan/internal/ppe/output"
	"github.com/spf13/cobra"
)

const maxConsecutiveErrors = 5

var statusCmd = &cobra.Command{
	Use:   "status [job-key...]",
	Short: "Check processing job status",
	Long: `Check the status of one or more jobs.

Examples:
  ppe status 6f1c...                # Check one job
  ppe status 6f1c... 9a2e...        # Several jobs as a table
  ppe status 6f1c... --watch        # Watch until complete`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatus,
}

var statusWatch bool

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Watch until complete")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusWatch {
		if len(args) > 1 {
			return fmt.Errorf("--watch takes a single job key")
		}
		return watchJob(cmd, args[0])
	}
	if len(args) > 1 {
		return statusTable(cmd, args)
	}

	status, err := apiClient.JobStatus(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get job status: %w", err)
	}
	if jsonOutput {
		return printer.JSON(status)
	}
	printer.Job(status)
	return nil
}

func statusTable(cmd *cobra.Command, jobKeys []string) error {
	ctx := commandContext(cmd)

	statuses := make([]*client.JobStatus, 0, len(jobKeys))
	for _, key := range jobKeys {
		status, err := apiClient.JobStatus(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to get status of %s: %w", key, err)
		}
		statuses = append(statuses, status)
	}

	if jsonOutput {
		return printer.JSON(statuses)
	}

	printer.JobTable(statuses)
	return nil
}

// watchJob polls the job until it leaves processing. Transient request
// failures are retried up to maxConsecutiveErrors times in a row.
func watchJob(cmd *cobra.Command, jobKey string) error {
	ctx := commandContext(cmd)

	spinner := output.NewWatch(jobKey,
		output.ProgressWithQuiet(quietMode || jsonOutput),
		output.ProgressWithOutput(cmd.ErrOrStderr()))

	ticker := time.NewTicker(cfg.GetTimeout("poll_interval"))
	defer ticker.Stop()

	timeout := time.After(cfg.GetTimeout("watch"))
	var consecutiveErrors int

	for {
		select {
		case <-ctx.Done():
			spinner.Finish()
			return ctx.Err()
		case <-timeout:
			spinner.Finish()
			return fmt.Errorf("timed out waiting for job %s", jobKey)
		case <-ticker.C:
			status, err := apiClient.JobStatus(ctx, jobKey)
			if err != nil {
				consecutiveErrors++
				spinner.Unreachable(consecutiveErrors, maxConsecutiveErrors)
				if consecutiveErrors >= maxConsecutiveErrors {
					spinner.Finish()
					return fmt.Errorf("failed after %d consecutive errors: %w", consecutiveErrors, err)
				}
				continue
			}

			consecutiveErrors = 0
			spinner.Status(status.Status)
			if !status.Done() {
				continue
			}
			spinner.Finish()

			if jsonOutput {
				if err := printer.JSON(status); err != nil {
					return err
				}
			}

			switch status.Status {
			case client.StatusCompleted:
				printer.Success("Job %s completed", jobKey)
				printer.Job(status)
				return nil
			case client.StatusNotFound:
				printer.Error("Job %s is unknown to the server", jobKey)
				return fmt.Errorf("job %s not found", jobKey)
			default:
				printer.Error("Job %s failed: %s", jobKey, status.Error)
				return fmt.Errorf("job %s failed", jobKey)
			}
		}
	}
}
