// Package output writes short status lines for setup commands such as
// config and doctor.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

// Marks prefixed to status lines.
const (
	MarkOK   = "[ok]"
	MarkWarn = "[!!]"
	MarkFail = "[xx]"
	MarkInfo = "[--]"
)

// Writer prints styled status lines.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer. noColor disables styling.
func New(out io.Writer, noColor bool) *Writer {
	return &Writer{out: out, styles: ui.GetStyles(noColor)}
}

// Status prints msg after mark. An empty mark indents the line instead.
func (w *Writer) Status(mark, msg string) {
	if mark == "" {
		_, _ = fmt.Fprintf(w.out, "     %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", mark, msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(mark, format string, args ...any) {
	w.Status(mark, fmt.Sprintf(format, args...))
}

// Header prints a bold title line.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

func (w *Writer) Success(msg string) { w.Status(w.styles.Success.Render(MarkOK), msg) }
func (w *Writer) Warning(msg string) { w.Status(w.styles.Warning.Render(MarkWarn), msg) }
func (w *Writer) Error(msg string)   { w.Status(w.styles.Error.Render(MarkFail), msg) }
func (w *Writer) Info(msg string)    { w.Status(w.styles.Dim.Render(MarkInfo), msg) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }
func (w *Writer) Errorf(format string, args ...any)   { w.Error(fmt.Sprintf(format, args...)) }
func (w *Writer) Infof(format string, args ...any)    { w.Info(fmt.Sprintf(format, args...)) }

// Detail prints an indented, dimmed line under the previous status.
func (w *Writer) Detail(msg string) {
	w.Status("", w.styles.Dim.Render(msg))
}

// Code prints content indented between blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
