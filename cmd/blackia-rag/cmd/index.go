package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/extract"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

type indexOptions struct {
	id         string
	entityType string
	entityID   string
	mode       string
	pages      string
	dir        string
	extensions []string
	noTUI      bool
}

func newIndexCmd(ro *rootOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Index a document or a directory",
		Long: `Index one document, or every matching document of a directory with --dir.

Text is chunked and embedded for cosine search. Page images are taken
from the sibling <name>.pages/ directory (or --pages) and embedded as
patch grids for MaxSim search. Reindexing a document replaces its rows.

Modes:
  auto     choose from the mime type and the text length (default)
  text     text chunks only
  vision   page images only
  hybrid   both representations`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode, err := parseIndexMode(opts.mode)
			if err != nil {
				return err
			}
			switch {
			case opts.dir != "" && len(args) > 0:
				return raerrors.ValidationError("pass either a file or --dir, not both", nil)
			case opts.dir != "":
				return runIndexDir(ctx, cmd, ro, opts, mode)
			case len(args) == 1:
				return runIndexFile(ctx, cmd, ro, args[0], opts, mode)
			default:
				return raerrors.ValidationError("a file or --dir is required", nil).
					WithSuggestion("Run 'blackia-rag index report.pdf' or 'blackia-rag index --dir ./docs'.")
			}
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Attachment id (default: file name without extension)")
	cmd.Flags().StringVar(&opts.entityType, "entity-type", "", "Owning entity type")
	cmd.Flags().StringVar(&opts.entityID, "entity-id", "", "Owning entity id")
	cmd.Flags().StringVar(&opts.mode, "mode", "auto", "Indexing mode: auto, text, vision or hybrid")
	cmd.Flags().StringVar(&opts.pages, "pages", "", "Directory of rendered page images")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Index every matching document under this directory")
	cmd.Flags().StringSliceVar(&opts.extensions, "ext", nil, "File extensions for --dir (default: watch.extensions)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")

	return cmd
}

// parseIndexMode maps auto to the empty mode so the Manager recommends one
// per document.
func parseIndexMode(s string) (search.Mode, error) {
	mode, err := search.ParseMode(s)
	if err != nil {
		return "", err
	}
	if mode == search.ModeAuto {
		return "", nil
	}
	return mode, nil
}

func runIndexFile(ctx context.Context, cmd *cobra.Command, ro *rootOptions, path string, opts indexOptions, mode search.Mode) error {
	info, err := os.Stat(path)
	if err != nil {
		return raerrors.ValidationError(fmt.Sprintf("cannot read %s", path), err)
	}
	if info.IsDir() {
		return raerrors.ValidationError(fmt.Sprintf("%s is a directory", path), nil).
			WithSuggestion("Use --dir to index a directory.")
	}

	doc, err := index.DocumentFromFile(path, index.RunnerConfig{
		EntityType: opts.entityType,
		EntityID:   opts.entityID,
		Mode:       mode,
	})
	if err != nil {
		return err
	}
	if opts.id != "" {
		doc.AttachmentID = opts.id
	}
	if opts.pages != "" {
		pages, err := extract.PageImages(opts.pages)
		if err != nil {
			return err
		}
		doc.PageImages = pages
	}

	a, err := openApp(ctx, ro, openOptions{write: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out, err := a.manager.AddOrReindex(ctx, doc)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Indexed %s (%s)\n", out.AttachmentID, out.Status)
	_, _ = fmt.Fprintf(w, "  Text chunks:  %d\n", out.ChunkCount)
	_, _ = fmt.Fprintf(w, "  Vision pages: %d (%d patches)\n", out.PageCount, out.PatchCount)
	if out.VisionSkipped {
		_, _ = fmt.Fprintln(w, "  Vision skipped: no vision embedder or no page images")
	}
	_, _ = fmt.Fprintf(w, "  Job:          %s\n", out.JobID)
	return nil
}

func runIndexDir(ctx context.Context, cmd *cobra.Command, ro *rootOptions, opts indexOptions, mode search.Mode) error {
	info, err := os.Stat(opts.dir)
	if err != nil || !info.IsDir() {
		return raerrors.ValidationError(fmt.Sprintf("%s is not a directory", opts.dir), err)
	}

	a, err := openApp(ctx, ro, openOptions{write: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	extensions := opts.extensions
	if len(extensions) == 0 {
		extensions = a.cfg.Watch.Extensions
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(ro.colorDisabled()),
		ui.WithTitle("blackia-rag index")))

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer:       renderer,
		Manager:        a.manager,
		TextEmbedder:   a.text,
		VisionEmbedder: a.vision,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, index.RunnerConfig{
		Dir:        opts.dir,
		Extensions: extensions,
		EntityType: opts.entityType,
		EntityID:   opts.entityID,
		Mode:       mode,
	})
	if err != nil {
		return err
	}
	if result.Errors > 0 {
		return fmt.Errorf("%d of %d documents failed to index", result.Errors, result.Errors+result.Documents)
	}
	return nil
}
