// Package output provides CLI text formatting for retrieval results and
// progress, with ANSI styling when writing to a terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// Writer provides formatted output for the CLI. Write errors are ignored;
// console output is best effort.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer. Styling is enabled only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: IsTerminal(out) && os.Getenv("NO_COLOR") == "",
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (w *Writer) style(code, s string) string {
	if !w.useColor {
		return s
	}
	return code + s + ansiReset
}

// Heading prints a bold section title.
func (w *Writer) Heading(title string) {
	_, _ = fmt.Fprintln(w.out, w.style(ansiBold, title))
}

// Headingf prints a formatted section title.
func (w *Writer) Headingf(format string, args ...any) {
	w.Heading(fmt.Sprintf(format, args...))
}

// Linef prints an indented line.
func (w *Writer) Linef(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, "  "+format+"\n", args...)
}

// Detailf prints a dimmed, further indented line.
func (w *Writer) Detailf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, "     "+w.style(ansiDim, fmt.Sprintf(format, args...)))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "✅ %s\n", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "⚠️  %s\n", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress redraws a progress bar in place on terminals. Elsewhere it
// prints only the final line.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	if !w.useColor && current < total {
		return
	}

	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r[%s] %3.0f%% %s", renderProgressBar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	filled = max(0, min(filled, width))

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
