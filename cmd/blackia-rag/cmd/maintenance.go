package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

func newCleanupCmd(ro *rootOptions) *cobra.Command {
	var (
		validIDs  []string
		validFile string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete rows whose attachment is no longer valid",
		Long: `Delete every text chunk and page whose attachment id is not in the
valid set. The set comes from --valid-ids, from --valid-file (one id per
line), or from the documents the index knows about.

An empty valid set deletes nothing unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(validIDs) > 0 && validFile != "" {
				return raerrors.ValidationError("pass either --valid-ids or --valid-file", nil)
			}
			fromFlags := len(validIDs) > 0 || validFile != ""
			if validFile != "" {
				ids, err := readIDFile(validFile)
				if err != nil {
					return err
				}
				validIDs = ids
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{write: true, noEmbedders: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if !fromFlags {
				for _, st := range a.manager.States() {
					validIDs = append(validIDs, st.AttachmentID)
				}
			}

			report, err := a.store.Maintenance.CleanOrphans(ctx, validIDs, force)
			if err != nil {
				return err
			}
			a.compactor.RecordDeleted(report.Total())
			for _, id := range report.Attachments {
				// Rows are gone; drop any lingering state too.
				if err := a.manager.Delete(ctx, id); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if len(validIDs) == 0 && !force {
				_, _ = fmt.Fprintln(w, "Valid set is empty, nothing deleted (use --force to clear the index)")
				return nil
			}
			_, _ = fmt.Fprintf(w, "Removed %d attachments (%d text chunks, %d pages)\n",
				len(report.Attachments), report.TextDeleted, report.VisionDeleted)
			for _, id := range report.Attachments {
				_, _ = fmt.Fprintf(w, "  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&validIDs, "valid-ids", nil, "Comma-separated list of attachment ids to keep")
	cmd.Flags().StringVar(&validFile, "valid-file", "", "File listing attachment ids to keep, one per line")
	cmd.Flags().BoolVar(&force, "force", false, "Allow an empty valid set to clear the index")

	return cmd
}

// readIDFile reads one id per line. Blank lines and # comments are ignored.
func readIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, raerrors.ValidationError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, raerrors.ValidationError(fmt.Sprintf("cannot read %s", path), err)
	}
	return ids, nil
}

func newCompactCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rebuild the ANN graph and reclaim database space",
		Long: `Compact rebuilds the text ANN graph without tombstones, then vacuums
the database. The server also compacts automatically when idle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{write: true, noEmbedders: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			before, err := a.store.Maintenance.Stats(ctx)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := a.compactor.CompactNow(ctx); err != nil {
				return err
			}
			after, err := a.store.Maintenance.Stats(ctx)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Compacted in %s: %s -> %s\n",
				time.Since(start).Round(time.Millisecond),
				ui.FormatBytes(before.FileSizeBytes), ui.FormatBytes(after.FileSizeBytes))
			return nil
		},
	}
}

func newCheckCmd(ro *rootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare document states with the stored rows",
		Long: `Check reports documents whose stored rows disagree with their
lifecycle state, and rows that belong to no known document.

With --repair, orphan rows are deleted. Documents with missing or
mismatched rows are listed for reindexing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{write: repair, noEmbedders: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			result, err := a.checker.Check(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Checked %d documents in %s\n", result.Checked, result.Duration.Round(time.Millisecond))
			if result.Consistent() {
				_, _ = fmt.Fprintln(w, "Index is consistent")
				return nil
			}
			for _, issue := range result.Inconsistencies {
				_, _ = fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Type, issue.AttachmentID, issue.Details)
			}

			if !repair {
				return fmt.Errorf("%d inconsistencies found, run with --repair to fix orphans", len(result.Inconsistencies))
			}
			report, err := a.checker.Repair(ctx, result.Inconsistencies)
			if err != nil {
				return err
			}
			a.compactor.RecordDeleted(report.Orphans.Total())
			_, _ = fmt.Fprintf(w, "Removed %d orphan attachments\n", len(report.Orphans.Attachments))
			if len(report.NeedsReindex) > 0 {
				_, _ = fmt.Fprintf(w, "Reindex needed: %s\n", strings.Join(report.NeedsReindex, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphan rows")

	return cmd
}
