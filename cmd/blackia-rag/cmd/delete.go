package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

func newDeleteCmd(ro *rootOptions) *cobra.Command {
	var entityType, entityID string

	cmd := &cobra.Command{
		Use:   "delete [attachment-id]",
		Short: "Delete a document, or every document of an entity",
		Long: `Delete the text chunks, page rows and lifecycle state of a document.

With --entity-type and --entity-id, every row owned by that entity is
removed instead. Deleting an unknown id succeeds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byEntity := entityType != "" || entityID != ""
			switch {
			case byEntity && len(args) > 0:
				return raerrors.ValidationError("pass either an attachment id or --entity-type/--entity-id", nil)
			case !byEntity && len(args) == 0:
				return raerrors.ValidationError("an attachment id is required", nil)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{write: true, noEmbedders: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			w := cmd.OutOrStdout()
			if byEntity {
				text, vision, gone, err := deleteEntity(ctx, a, entityType, entityID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "Deleted %d text chunks and %d pages (%d documents)\n", text, vision, len(gone))
				return nil
			}

			if err := a.manager.Delete(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "entity-type", "", "Delete every document of this entity type")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Delete every document of this entity id")

	return cmd
}

// deleteEntity removes the entity's rows, then drops the lifecycle state of
// every attachment left without rows.
func deleteEntity(ctx context.Context, a *app, entityType, entityID string) (text, vision int, gone []string, err error) {
	before, err := a.store.Maintenance.AttachmentCounts(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	text, vision, err = a.store.Maintenance.DeleteByEntity(ctx, entityType, entityID)
	if err != nil {
		return 0, 0, nil, err
	}
	a.compactor.RecordDeleted(text + vision)

	after, err := a.store.Maintenance.AttachmentCounts(ctx)
	if err != nil {
		return text, vision, nil, err
	}
	for id := range before {
		if _, ok := after[id]; ok {
			continue
		}
		if err := a.manager.Delete(ctx, id); err != nil {
			return text, vision, gone, err
		}
		gone = append(gone, id)
	}
	sort.Strings(gone)
	return text, vision, gone, nil
}
