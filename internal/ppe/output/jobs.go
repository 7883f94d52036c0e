package output

import (
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/ppe/client"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// JobAccepted prints one line per accepted upload and where its result
// will appear.
func (p *Printer) JobAccepted(path string, resp *client.UploadResponse) {
	if !p.human() {
		return
	}
	p.emit(p.out, okMark(), "%s %s job %s", filepath.Base(path), nextMark(), resp.JobKey)
	p.emit(p.out, "  "+subMark(), "output: %s", resp.OutputKey)
}

func (p *Printer) UploadFailed(path string, err error) {
	if !p.json {
		p.emit(p.errOut, failMark(), "%s: %v", path, err)
	}
}

// UploadTotals closes a multi-file upload run.
func (p *Printer) UploadTotals(accepted, failed int) {
	if !p.human() {
		return
	}
	total := accepted + failed
	if failed == 0 {
		p.emit(p.out, "", "\n%s", color.GreenString("%d/%d accepted", accepted, total))
		return
	}
	p.emit(p.out, "", "\n%s", color.YellowString("%d/%d accepted (%d failed)", accepted, total, failed))
}

// DryRun lists the files an upload would send with the media kind the
// server will assign them.
func (p *Printer) DryRun(files []string) {
	p.Section("Dry run, would upload:")
	for _, f := range files {
		kind, _ := media.KindFromFilename(f)
		p.Line("  %s (%s)", f, kind)
	}
	p.Line("\nTotal: %d files", len(files))
}

// Job is the detail view of one job status.
func (p *Printer) Job(status *client.JobStatus) {
	p.Section("Job Status")
	p.Field("Job", status.JobKey)
	p.Field("Status", statusColor(status.Status))
	p.Field("Media", status.MediaKind)
	p.Field("Output", status.OutputKey)
	p.Field("Stream", status.StreamURL)
	p.Field("Download", status.DownloadURL)
	p.Field("Error", status.Error)
	if status.UpdatedAt != nil {
		p.Field("Updated", status.UpdatedAt.Local().Format(time.DateTime))
	}
}

// Saved reports a finished download or stream written to path.
func (p *Printer) Saved(path string, n int64, contentRange string) {
	p.Success("Saved %s (%s)", path, FormatSize(n))
	p.Field("Range", contentRange)
}

func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func statusColor(status string) string {
	switch status {
	case client.StatusCompleted:
		return color.GreenString(status)
	case client.StatusError:
		return color.RedString(status)
	case client.StatusNotFound:
		return color.HiBlackString(status)
	default:
		return color.YellowString(status)
	}
}
