// Package printer formats certgen's human-facing CLI output.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dyluth/certgen/internal/task"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer writes to an output and an error stream.
type Printer struct {
	out    io.Writer
	errOut io.Writer
}

// New creates a printer.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, errOut: errOut}
}

// Stdio returns a printer on stdout and stderr.
func Stdio() *Printer {
	return New(os.Stdout, os.Stderr)
}

// Success prints a green line with a checkmark.
func (p *Printer) Success(format string, a ...any) {
	green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a yellow line with a warning sign.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.out, "⚠ %s\n", fmt.Sprintf(format, a...))
}

// Step prints a cyan progress line.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Printf prints plain text.
func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Error prints a title, an explanation, sorted context details and
// suggestions to the error stream. The returned error carries only the
// title, for Cobra with SilenceErrors set.
func (p *Printer) Error(title, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(p.errOut, "%s\n", title)

	if explanation != "" {
		fmt.Fprintf(p.errOut, "\n%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(p.errOut)
		for _, k := range keys {
			fmt.Fprintf(p.errOut, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.errOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.errOut, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// TaskResult prints one task outcome.
func (p *Printer) TaskResult(res task.Result) {
	switch res.Status {
	case task.StatusSucceeded:
		p.Success("%s → %s (attempts: %d)", res.CertificateID, res.OutputPath, res.Attempts)
	case task.StatusFailed:
		red.Fprintf(p.out, "✗ %s failed", label(res))
		fmt.Fprintf(p.out, " [%s", res.ErrorKind)
		if res.Stage != "" {
			fmt.Fprintf(p.out, " at %s", res.Stage)
		}
		fmt.Fprintf(p.out, ", attempts: %d]: %s\n", res.Attempts, res.Message)
	default:
		p.Step("%s is %s", label(res), res.Status)
	}
}

// Queued prints a handle for an accepted async task.
func (p *Printer) Queued(h task.Handle) {
	p.Step("%s queued as task %s", h.CertificateID, h.TaskID)
}

// Check is one line of a checklist.
type Check struct {
	Name   string
	OK     bool
	Soft   bool // a failed soft check is a warning
	Detail string
}

// Checklist prints checks as ✓, ⚠ or ✗ lines and returns whether every
// hard check passed.
func (p *Printer) Checklist(checks []Check) bool {
	healthy := true
	for _, c := range checks {
		line := c.Name
		if c.Detail != "" {
			line += " (" + c.Detail + ")"
		}
		switch {
		case c.OK:
			green.Fprintf(p.out, "  ✓ %s\n", line)
		case c.Soft:
			yellow.Fprintf(p.out, "  ⚠ %s\n", line)
		default:
			healthy = false
			red.Fprintf(p.out, "  ✗ %s\n", line)
		}
	}
	return healthy
}

// Summary prints a batch summary.
func (p *Printer) Summary(succeeded, failed, queued int, elapsed time.Duration) {
	parts := []string{fmt.Sprintf("%d succeeded", succeeded)}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if queued > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", queued))
	}
	msg := strings.Join(parts, ", ") + fmt.Sprintf(" in %s", elapsed.Round(time.Millisecond))
	if failed > 0 {
		p.Warning("%s", msg)
		return
	}
	p.Success("%s", msg)
}

func label(res task.Result) string {
	if res.CertificateID != "" {
		return res.CertificateID
	}
	return "task " + res.TaskID
}
