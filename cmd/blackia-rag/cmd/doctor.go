package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	"github.com/Franck-BRT/BlackIA-sub003/internal/output"
	"github.com/Franck-BRT/BlackIA-sub003/internal/preflight"
)

func newDoctorCmd(ro *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that this machine can host the index",
		Long: `Check the data directory, disk space, memory, file descriptor limit
and the embedding backends.

A failing vision backend is a warning: indexing and search continue
text-only. A passing run is remembered so 'serve' skips its own check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, cfg, err := loadConfig(ro)
			if err != nil {
				return err
			}
			dataDir := cfg.DataPath(root)

			results := runPreflight(cmd.Context(), cfg, dataDir, verbose, ro.logger())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"status":   preflight.SummaryStatus(results),
					"data_dir": dataDir,
					"checks":   results,
				}); err != nil {
					return err
				}
			} else {
				out := output.New(cmd.OutOrStdout(), ro.colorDisabled())
				out.Header("blackia-rag doctor")
				out.Newline()
				preflight.New(preflight.WithVerbose(verbose)).PrintResults(out, results)
			}

			if preflight.HasCriticalFailures(results) {
				_ = preflight.ClearMarker(dataDir)
				return raerrors.New(raerrors.ErrCodeBackendUnavailable, "preflight checks failed", nil).
					WithSuggestion("Fix the failed checks above, or use --offline for static embeddings.")
			}
			return preflight.MarkPassed(dataDir, preflight.EmbedderKey(cfg.Embeddings.Provider, cfg.Embeddings.Model))
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	return cmd
}

// runPreflight builds the configured backends and runs every check.
func runPreflight(ctx context.Context, cfg *config.Config, dataDir string, verbose bool, logger *slog.Logger) []preflight.CheckResult {
	fo := embed.FactoryOptions{Logger: logger, RequestTimeout: cfg.EmbedTimeout()}

	text, textErr := embed.NewTextEmbedder(ctx, cfg.Embeddings, fo)
	if textErr == nil {
		defer func() { _ = text.Close() }()
	}
	vision, visionErr := embed.NewVisionEmbedder(ctx, cfg.Embeddings, fo)
	if visionErr == nil && vision != nil {
		defer func() { _ = vision.Close() }()
	}

	checker := preflight.New(preflight.WithEmbedders(text, vision), preflight.WithVerbose(verbose))
	results := checker.RunAll(ctx, dataDir)

	// Report construction errors in place of the generic message.
	for i := range results {
		switch {
		case results[i].Name == "text_embedder" && textErr != nil:
			results[i].Message, results[i].Details = splitError(textErr)
		case results[i].Name == "vision_embedder" && visionErr != nil:
			results[i].Message, results[i].Details = splitError(visionErr)
		}
	}
	return results
}

// splitError separates an error's first line from its remedy text.
func splitError(err error) (string, string) {
	msg, rest, _ := strings.Cut(err.Error(), "\n")
	return msg, strings.TrimSpace(rest)
}
