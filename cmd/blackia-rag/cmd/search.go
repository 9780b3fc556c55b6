package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

func newSearchCmd(ro *rootOptions) *cobra.Command {
	var (
		topK        int
		minScore    float64
		mode        string
		attachments []string
		entityType  string
		entityID    string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search text chunks, page images or both.

In hybrid mode the text and vision rankings are fused with Reciprocal
Rank Fusion. Auto mode picks a mode from the query wording.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if format != "text" && format != "json" {
				return raerrors.ValidationError("--format must be text or json", nil)
			}
			// Empty keeps the configured default mode.
			var m search.Mode
			if mode != "" {
				parsed, err := search.ParseMode(mode)
				if err != nil {
					return err
				}
				m = parsed
			}

			if !indexExists(ro) {
				return raerrors.New(raerrors.ErrCodeStoreIO, "no index found", nil).
					WithSuggestion("Run 'blackia-rag index' first.")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			resp, err := a.searcher.Search(ctx, search.Query{
				Text:     query,
				TopK:     topK,
				MinScore: minScore,
				Mode:     m,
				Filters: store.Filter{
					EntityType:    entityType,
					EntityID:      entityID,
					AttachmentIDs: attachments,
				},
			})
			if err != nil {
				return err
			}

			renderer := ui.NewResultRenderer(cmd.OutOrStdout(), ro.colorDisabled())
			if format == "json" {
				return renderer.RenderJSON(resp)
			}
			return renderer.Render(query, resp)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "n", 0, "Maximum number of results (default: search.top_k)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop hits below this similarity")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Search mode: auto, text, vision or hybrid (default: search.default_mode)")
	cmd.Flags().StringSliceVarP(&attachments, "attachment", "a", nil, "Restrict to these attachment ids")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Restrict to an entity type")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Restrict to an entity id")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or json")

	return cmd
}
