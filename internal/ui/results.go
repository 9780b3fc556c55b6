package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

// DefaultSnippetLength is the number of runes shown per text result.
const DefaultSnippetLength = 200

// ResultRenderer displays search responses.
type ResultRenderer struct {
	out     io.Writer
	styles  Styles
	snippet int
}

// NewResultRenderer creates a result renderer.
func NewResultRenderer(out io.Writer, noColor bool) *ResultRenderer {
	return &ResultRenderer{out: out, styles: GetStyles(noColor), snippet: DefaultSnippetLength}
}

// Render writes one block per fused result.
func (r *ResultRenderer) Render(query string, resp *search.Response) error {
	w := r.out
	header := fmt.Sprintf("%d results for %q (%s, %s)", len(resp.Results), query, resp.Mode, resp.Took.Round(time.Millisecond))
	_, _ = fmt.Fprintln(w, r.styles.Header.Render(header))
	for _, warning := range resp.Warnings {
		_, _ = fmt.Fprintln(w, r.styles.Warning.Render("⚠ "+warning))
	}
	if resp.VisionTruncated {
		_, _ = fmt.Fprintln(w, r.styles.Warning.Render("⚠ vision candidates were capped, older pages were not scored"))
	}
	if len(resp.Results) == 0 {
		_, _ = fmt.Fprintln(w, r.styles.Dim.Render("No matches."))
		return nil
	}

	for i, res := range resp.Results {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "%s %s %s %s\n",
			r.styles.Label.Render(fmt.Sprintf("%2d.", i+1)),
			r.sourceTag(res.Source),
			r.styles.Active.Render(res.ID),
			r.styles.Score.Render(fmt.Sprintf("score=%.4f", res.Score)))

		switch {
		case res.Text != nil:
			meta := res.Text.Metadata
			line := fmt.Sprintf("    %s  chunk %d  cos=%.3f", res.AttachmentID, res.Text.ChunkIndex, res.Text.Score)
			if meta.LineStart > 0 {
				line += fmt.Sprintf("  lines %d-%d", meta.LineStart, meta.LineEnd)
			}
			_, _ = fmt.Fprintln(w, r.styles.Label.Render(line))
			_, _ = fmt.Fprintf(w, "    %s\n", Snippet(res.Text.Text, r.snippet))
		case res.Vision != nil:
			meta := res.Vision.Metadata
			_, _ = fmt.Fprintln(w, r.styles.Label.Render(fmt.Sprintf("    %s  page %d  maxsim=%.3f  patches=%d",
				res.AttachmentID, meta.PageNumber, res.Vision.Score, meta.NumPatches)))
			if meta.ImagePath != "" {
				_, _ = fmt.Fprintf(w, "    %s\n", r.styles.Dim.Render(meta.ImagePath))
			}
		}
	}
	return nil
}

// RenderJSON writes resp as JSON.
func (r *ResultRenderer) RenderJSON(resp *search.Response) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

func (r *ResultRenderer) sourceTag(s search.Source) string {
	switch s {
	case search.SourceText:
		return r.styles.Text.Render("[text]  ")
	case search.SourceVision:
		return r.styles.Vision.Render("[vision]")
	default:
		return string(s)
	}
}

// Snippet collapses whitespace and cuts text to maxLen runes.
func Snippet(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "…"
}
