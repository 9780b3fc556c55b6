package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Franck-BRT/BlackIA-sub003/internal/async"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/mcp"
	"github.com/Franck-BRT/BlackIA-sub003/internal/preflight"
	"github.com/Franck-BRT/BlackIA-sub003/internal/watcher"
)

func newServeCmd(ro *rootOptions) *cobra.Command {
	var (
		transport string
		watchDir  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server on stdio.

stdout carries JSON-RPC only; logs go to ~/.blackia/logs/ (or --log-file).
With --watch, documents dropped into the directory are indexed while
the server runs. Documents added or changed while the server was down
are caught up in the background at startup; index_status reports the
progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := ro.setupLogging(true); err != nil {
				return err
			}
			a, err := openApp(ctx, ro, openOptions{write: true})
			if err != nil {
				ro.logger().Error("failed to open index", slog.String("error", err.Error()))
				return err
			}
			defer func() { _ = a.Close() }()

			if transport == "" {
				transport = a.cfg.Server.Transport
			}
			return runServe(ctx, a, transport, watchDir)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio (default: server.transport)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Index documents dropped into this directory")

	return cmd
}

func runServe(ctx context.Context, a *app, transport, watchDir string) error {
	if preflight.NeedsCheck(a.dataDir, a.embedderKey()) {
		silentPreflight(ctx, a)
	}
	a.compactor.Start(ctx)

	deps := mcp.Dependencies{
		Searcher:       a.searcher,
		Manager:        a.manager,
		Stats:          a.store.Maintenance,
		TextEmbedder:   a.text,
		VisionEmbedder: a.vision,
		Logger:         a.logger,
	}
	if watchDir != "" {
		bg := startCatchUp(ctx, a, watchDir)
		defer bg.Stop()
		deps.Background = bg.Progress()
	}

	srv, err := mcp.NewServer(deps)
	if err != nil {
		return err
	}

	if watchDir != "" {
		// The watcher starts in the background so the MCP handshake is not delayed.
		go func() {
			if err := runWatch(ctx, a, watchDir, index.RunnerConfig{}); err != nil && ctx.Err() == nil {
				a.logger.Error("inbox watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	a.logger.Info("server ready",
		slog.String("data_dir", a.dataDir),
		slog.String("text_model", a.text.ModelName()),
		slog.Bool("vision", a.vision != nil),
		slog.Int("documents", len(a.manager.States())))
	return srv.Serve(ctx, transport)
}

// startCatchUp indexes, in the background, the documents of dir that the
// index does not reflect yet.
func startCatchUp(ctx context.Context, a *app, dir string) *async.BackgroundIndexer {
	if async.HasIncompleteLock(a.dataDir) {
		a.logger.Warn("previous catch-up scan did not finish, rescanning", slog.String("dir", dir))
	}
	bg := async.NewBackgroundIndexer(
		async.IndexerConfig{DataDir: a.dataDir, Logger: a.logger},
		async.CatchUp(a.manager, async.CatchUpConfig{
			Dir:        dir,
			Extensions: a.cfg.Watch.Extensions,
			Logger:     a.logger,
		}))
	bg.Start(ctx)
	return bg
}

// silentPreflight runs the doctor checks once per data directory and logs
// the outcome; stdout belongs to the protocol.
func silentPreflight(ctx context.Context, a *app) {
	results := preflight.New(preflight.WithEmbedders(a.text, a.vision)).RunAll(ctx, a.dataDir)
	for _, r := range results {
		attrs := []any{slog.String("check", r.Name), slog.String("message", r.Message)}
		switch {
		case r.IsCritical():
			a.logger.Error("preflight check failed", attrs...)
		case r.Status != preflight.StatusPass:
			a.logger.Warn("preflight check warning", attrs...)
		}
	}
	if preflight.HasCriticalFailures(results) {
		return
	}
	if err := preflight.MarkPassed(a.dataDir, a.embedderKey()); err != nil {
		a.logger.Warn("cannot write preflight marker", slog.String("error", err.Error()))
	}
}

// runWatch watches dir and feeds every batch to the lifecycle manager until
// ctx is done.
func runWatch(ctx context.Context, a *app, dir string, doc index.RunnerConfig) error {
	opts := watcher.OptionsFromConfig(a.cfg.Watch)
	opts.Logger = a.logger
	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return err
	}
	d := watcher.NewDispatcher(dir, a.manager, doc, a.logger)
	return d.Run(ctx, w)
}
