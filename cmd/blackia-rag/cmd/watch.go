package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

func newWatchCmd(ro *rootOptions) *cobra.Command {
	var (
		mode       string
		entityType string
		entityID   string
		initial    bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Index documents as they appear in a directory",
		Long: `Watch a directory and keep the index in sync with it.

New and modified documents are (re)indexed; removed or renamed ones are
deleted. Bursts of events are coalesced before indexing. Page images
are read from the sibling <name>.pages/ directory.

With --initial, the directory is indexed once before watching starts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dir := args[0]
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				return raerrors.ValidationError(fmt.Sprintf("%s is not a directory", dir), err)
			}
			m, err := parseIndexMode(mode)
			if err != nil {
				return err
			}
			doc := index.RunnerConfig{
				Dir:        dir,
				EntityType: entityType,
				EntityID:   entityID,
				Mode:       m,
			}

			a, err := openApp(ctx, ro, openOptions{write: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			a.compactor.Start(ctx)

			if initial {
				runner, err := index.NewRunner(index.RunnerDependencies{
					Renderer:       ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(true), ui.WithNoColor(ro.colorDisabled()))),
					Manager:        a.manager,
					TextEmbedder:   a.text,
					VisionEmbedder: a.vision,
					Logger:         a.logger,
				})
				if err != nil {
					return err
				}
				doc.Extensions = a.cfg.Watch.Extensions
				if _, err := runner.Run(ctx, doc); err != nil {
					return err
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", dir)
			a.logger.Info("watching inbox", slog.String("dir", dir))
			if err := runWatch(ctx, a, dir, doc); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "auto", "Indexing mode: auto, text, vision or hybrid")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type stamped on indexed documents")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Entity id stamped on indexed documents")
	cmd.Flags().BoolVar(&initial, "initial", false, "Index the directory once before watching")

	return cmd
}
