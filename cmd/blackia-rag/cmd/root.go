// Package cmd provides the CLI commands for blackia-rag.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
	"github.com/Franck-BRT/BlackIA-sub003/internal/profiling"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
	"github.com/Franck-BRT/BlackIA-sub003/pkg/version"
)

// rootOptions carries the persistent flags and the logger they produce.
type rootOptions struct {
	root    string
	offline bool
	debug   bool
	noColor bool
	logFile string
	profile profiling.Options

	log            *slog.Logger
	loggingCleanup func()
	profiler       *profiling.Session
}

func (o *rootOptions) logger() *slog.Logger {
	if o.log == nil {
		return slog.Default()
	}
	return o.log
}

// colorDisabled reports whether styled output is turned off by flag or
// environment.
func (o *rootOptions) colorDisabled() bool {
	return o.noColor || ui.DetectNoColor()
}

// NewRootCmd creates the root command for the blackia-rag CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "blackia-rag",
		Short: "Local retrieval engine over text chunks and page images",
		Long: `blackia-rag indexes documents twice: as text chunks searched by
cosine similarity and as page images searched by late-interaction
MaxSim. Queries run against either representation or both, fused
with Reciprocal Rank Fusion.

Run 'blackia-rag serve' to expose the index to MCP clients.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("blackia-rag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.root, "root", ".", "Project root holding the index data directory")
	cmd.PersistentFlags().BoolVar(&opts.offline, "offline", false, "Use static embeddings (no embedding service)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of ~/.blackia/logs/")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write an execution trace to this file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		// serve configures its own stdout-safe logging.
		if c.Name() != "serve" {
			if err := opts.setupLogging(false); err != nil {
				return err
			}
		}
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return opts.finish()
	}

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newCleanupCmd(opts))
	cmd.AddCommand(newCompactCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newModelsCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newSnapshotCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd, opts
}

// setupLogging installs the JSON file logger. CLI runs mirror warnings to
// stderr only in debug mode; the stdio server never writes to stderr.
func (o *rootOptions) setupLogging(stdioServer bool) error {
	var cfg logging.Config
	switch {
	case stdioServer:
		level := "info"
		if o.debug {
			level = "debug"
		}
		cfg = logging.StdioServerConfig(level)
	case o.debug:
		cfg = logging.DebugConfig()
	default:
		cfg = logging.DefaultConfig()
		cfg.WriteToStderr = false
	}
	if o.logFile != "" {
		cfg.FilePath = o.logFile
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.log = logger
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)
	logger.Debug("logging enabled",
		slog.String("log_file", cfg.FilePath),
		slog.String("version", version.Version))
	return nil
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() || o.profiler != nil {
		return nil
	}
	s, err := profiling.Start(o.profile, o.logger())
	if err != nil {
		return err
	}
	o.profiler = s
	return nil
}

// finish flushes profiles and closes the log file. It runs after the
// command whether or not it failed.
func (o *rootOptions) finish() error {
	err := o.profiler.Stop()
	o.profiler = nil
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints failures in CLI form.
func Execute() error {
	cmd, opts := newRootCmd()
	err := cmd.Execute()
	if ferr := opts.finish(); err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), raerrors.FormatForCLI(err))
	}
	return err
}
