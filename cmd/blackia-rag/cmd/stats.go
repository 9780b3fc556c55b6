package cmd

import (
	"context"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/telemetry"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

func newStatsCmd(ro *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		queries    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show row counts, vector dimensions, storage use and the lifecycle
status of indexed documents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !indexExists(ro) {
				return raerrors.New(raerrors.ErrCodeStoreIO, "no index found", nil).
					WithSuggestion("Run 'blackia-rag index' first.")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{noEmbedders: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			info, err := collectStats(ctx, a)
			if err != nil {
				return err
			}
			if queries {
				snap, err := loadQueryStats(ctx, a)
				if err != nil {
					return err
				}
				info.Queries = &snap
			}

			renderer := ui.NewStatsRenderer(cmd.OutOrStdout(), ro.colorDisabled())
			if jsonOutput {
				return renderer.RenderJSON(info)
			}
			return renderer.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output statistics as JSON")
	cmd.Flags().BoolVar(&queries, "queries", false, "Include recorded query statistics")

	return cmd
}

func collectStats(ctx context.Context, a *app) (ui.StatsInfo, error) {
	st, err := a.store.Maintenance.Stats(ctx)
	if err != nil {
		return ui.StatsInfo{}, err
	}

	info := ui.StatsInfo{
		DataDir:             a.dataDir,
		TextChunks:          st.TextChunks,
		VisionPages:         st.VisionPages,
		VisionPatches:       st.VisionPatches,
		DistinctAttachments: st.DistinctAttachments,
		TextDimensions:      st.TextDimensions,
		VisionDimensions:    st.VisionDimensions,
		TextVectorBytes:     st.TextVectorBytes,
		VisionPatchBytes:    st.VisionPatchBytes,
		FileSizeBytes:       st.FileSizeBytes,
		ANNNodes:            st.ANNNodes,
		States:              make(map[string]int),
		TextModel:           a.cfg.Embeddings.Model,
		VisionModel:         a.cfg.Embeddings.VisionModel,
	}
	for _, s := range a.manager.States() {
		info.States[string(s.Status)]++
		if s.LastIndexedAt.After(info.LastIndexed) {
			info.LastIndexed = s.LastIndexedAt
		}
	}
	return info, nil
}

func loadQueryStats(ctx context.Context, a *app) (telemetry.Snapshot, error) {
	st, err := telemetry.NewSQLiteStore(ctx, a.store.DB.SQL())
	if err != nil {
		return telemetry.Snapshot{}, err
	}
	cfg := telemetry.DefaultConfig()
	return st.Load(ctx, cfg.TopTermsCapacity, cfg.ZeroResultsCapacity)
}
