package output

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/ppescan/internal/ppe/client"
	"github.com/mattn/go-runewidth"
)

// maxErrorWidth keeps long failure reasons from wrapping the table.
const maxErrorWidth = 48

var jobColumns = []string{"JOB", "STATUS", "MEDIA", "OUTPUT", "ERROR"}

// JobTable prints one row per job. Widths are measured in terminal cells
// before the status is colored so escape codes do not skew alignment.
func (p *Printer) JobTable(statuses []*client.JobStatus) {
	if !p.human() {
		return
	}

	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{
			s.JobKey,
			s.Status,
			s.MediaKind,
			s.OutputKey,
			runewidth.Truncate(s.Error, maxErrorWidth, "..."),
		})
	}

	widths := make([]int, len(jobColumns))
	for i, h := range jobColumns {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	render := func(cells []string, colorStatus bool) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			padded := cell
			if i < len(cells)-1 {
				padded = runewidth.FillRight(cell, widths[i])
			}
			if colorStatus && i == 1 {
				padded = strings.Replace(padded, cell, statusColor(cell), 1)
			}
			parts[i] = padded
		}
		fmt.Fprintln(p.out, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	render(jobColumns, false)
	for _, row := range rows {
		render(row, true)
	}
}
