package mcp

import (
	"fmt"
	"strings"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

const maxSnippetRunes = 400

// FormatSearchResults renders a response as markdown.
func FormatSearchResults(query string, resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (mode: %s)\n\n", resp.Mode)

	for _, w := range resp.Warnings {
		fmt.Fprintf(&sb, "> Warning: %s\n\n", w)
	}

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, rank int, r search.FusedResult) {
	out := ToSearchResultOutput(r)
	name := out.DocumentName
	if name == "" {
		name = out.AttachmentID
	}

	switch r.Source {
	case search.SourceVision:
		fmt.Fprintf(sb, "### %d. %s, page %d\n\n", rank, name, out.PageNumber)
	default:
		fmt.Fprintf(sb, "### %d. %s\n\n", rank, name)
	}
	fmt.Fprintf(sb, "**Source:** %s | **Score:** %.4f | **Attachment:** `%s`\n\n", out.Source, out.Score, out.AttachmentID)

	if out.Text != "" {
		sb.WriteString("```\n")
		sb.WriteString(snippet(out.Text))
		sb.WriteString("\n```\n\n")
	}
}

// ToSearchResultOutput flattens a fused result.
func ToSearchResultOutput(r search.FusedResult) SearchResultOutput {
	out := SearchResultOutput{
		ID:           r.ID,
		AttachmentID: r.AttachmentID,
		Source:       string(r.Source),
		Score:        r.Score,
		TextRank:     r.TextRank,
		VisionRank:   r.VisionRank,
	}
	if r.Text != nil {
		out.Text = r.Text.Text
		out.DocumentName = r.Text.Metadata.DocumentName
	}
	if r.Vision != nil {
		out.PageNumber = r.Vision.Metadata.PageNumber
		if out.DocumentName == "" {
			out.DocumentName = r.Vision.Metadata.DocumentName
		}
	}
	return out
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxSnippetRunes {
		return text
	}
	return string(runes[:maxSnippetRunes]) + "..."
}
