// Package output renders ppe command results. Human output goes to the
// command's stdout; with --json only JSON does, and --quiet keeps errors only.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

type Printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
	quiet  bool
}

type Option func(*Printer)

func WithJSON(on bool) Option          { return func(p *Printer) { p.json = on } }
func WithQuiet(on bool) Option         { return func(p *Printer) { p.quiet = on } }
func WithOutput(w io.Writer) Option    { return func(p *Printer) { p.out = w } }
func WithErrOutput(w io.Writer) Option { return func(p *Printer) { p.errOut = w } }

func New(opts ...Option) *Printer {
	p := &Printer{out: os.Stdout, errOut: os.Stderr}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Marks are colored per call so color.NoColor set after start-up applies.
func okMark() string   { return color.GreenString("✓") }
func failMark() string { return color.RedString("✗") }
func nextMark() string { return color.CyanString("→") }
func subMark() string  { return color.HiBlackString("└─") }

// human reports whether decorated text should be written at all.
func (p *Printer) human() bool {
	return !p.quiet && !p.json
}

func (p *Printer) emit(w io.Writer, mark, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if mark != "" {
		msg = mark + " " + msg
	}
	fmt.Fprintln(w, msg)
}

// Line writes undecorated text.
func (p *Printer) Line(format string, args ...any) {
	if p.human() {
		p.emit(p.out, "", format, args...)
	}
}

func (p *Printer) Success(format string, args ...any) {
	if p.human() {
		p.emit(p.out, okMark(), format, args...)
	}
}

func (p *Printer) Info(format string, args ...any) {
	if p.human() {
		p.emit(p.out, nextMark(), format, args...)
	}
}

// Error goes to stderr and survives --quiet.
func (p *Printer) Error(format string, args ...any) {
	if !p.json {
		p.emit(p.errOut, failMark(), format, args...)
	}
}

func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) Section(title string) {
	if p.human() {
		fmt.Fprintf(p.out, "\n%s\n", color.New(color.Bold, color.FgCyan).Sprint(title))
	}
}

// Field writes one "key: value" line of a detail view. Empty values are
// skipped so optional job fields need no guard at the call site.
func (p *Printer) Field(key, value string) {
	if p.human() && value != "" {
		fmt.Fprintf(p.out, "  %s: %s\n", color.HiBlackString(key), value)
	}
}
