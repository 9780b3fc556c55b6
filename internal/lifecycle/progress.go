package lifecycle

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

// PullPrinter renders pull updates as a single redrawn progress line.
// Updates without a size print their status once.
func PullPrinter(w io.Writer, noColor bool) func(PullProgress) {
	opts := []progress.Option{progress.WithWidth(30), progress.WithoutPercentage()}
	if noColor {
		opts = append(opts, progress.WithFillCharacters('#', '-'), progress.WithSolidFill(""))
	} else {
		opts = append(opts, progress.WithDefaultGradient())
	}
	bar := progress.New(opts...)
	lastStatus := ""
	lastPct := -1

	return func(p PullProgress) {
		if p.Total <= 0 {
			if p.Status != lastStatus {
				lastStatus = p.Status
				_, _ = fmt.Fprintf(w, "\r%s\n", p.Status)
			}
			return
		}
		pct := int(p.Percent)
		if pct == lastPct {
			return
		}
		lastPct = pct
		_, _ = fmt.Fprintf(w, "\r%s %3d%% %s/%s", bar.ViewAs(p.Percent/100), pct,
			ui.FormatBytes(p.Completed), ui.FormatBytes(p.Total))
		if p.Completed >= p.Total {
			_, _ = fmt.Fprintln(w)
		}
	}
}
