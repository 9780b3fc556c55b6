package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/output"
	"github.com/Franck-BRT/BlackIA-sub003/internal/snapshot"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
	"github.com/Franck-BRT/BlackIA-sub003/internal/ui"
)

func newSnapshotCmd(ro *rootOptions) *cobra.Command {
	var storage string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save and restore named copies of the index",
		Long: `Keep named copies of the index database under ~/.blackia/snapshots
(or --storage). A snapshot is taken while the index stays usable;
restoring one needs the index to be idle.`,
	}
	cmd.PersistentFlags().StringVar(&storage, "storage", "", "Snapshot directory (default: ~/.blackia/snapshots)")

	manager := func() (*snapshot.Manager, error) {
		path := storage
		if path == "" {
			var err error
			if path, err = snapshot.DefaultStoragePath(); err != nil {
				return nil, err
			}
		}
		return snapshot.NewManager(snapshot.ManagerConfig{StoragePath: path})
	}

	cmd.AddCommand(newSnapshotSaveCmd(ro, manager))
	cmd.AddCommand(newSnapshotListCmd(manager))
	cmd.AddCommand(newSnapshotRestoreCmd(ro, manager))
	cmd.AddCommand(newSnapshotDeleteCmd(ro, manager))
	cmd.AddCommand(newSnapshotPruneCmd(ro, manager))
	return cmd
}

type snapshotManagerFunc func() (*snapshot.Manager, error)

func newSnapshotSaveCmd(ro *rootOptions, manager snapshotManagerFunc) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current index under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !indexExists(ro) {
				return raerrors.New(raerrors.ErrCodeStoreIO, "no index found", nil).
					WithSuggestion("Run 'blackia-rag index' first.")
			}
			m, err := manager()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, ro, openOptions{noEmbedders: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			st, err := a.store.Maintenance.Stats(ctx)
			if err != nil {
				return err
			}
			snap, err := m.Save(ctx, args[0], a.root, a.store.DB, snapshot.Stats{
				Attachments:   st.DistinctAttachments,
				TextChunks:    st.TextChunks,
				VisionPages:   st.VisionPages,
				VisionPatches: st.VisionPatches,
			}, force)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), ro.colorDisabled())
			out.Successf("Saved snapshot %s (%d documents)", snap.Name, snap.Stats.Attachments)
			out.Detail(snap.Dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing snapshot of the same name")
	return cmd
}

func newSnapshotListCmd(manager snapshotManagerFunc) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			infos, err := m.List()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				if infos == nil {
					infos = []snapshot.Info{}
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			if len(infos) == 0 {
				_, _ = fmt.Fprintln(w, "No snapshots.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tCREATED\tDOCUMENTS\tSIZE\tPROJECT")
			for _, info := range infos {
				project := info.ProjectPath
				if !info.Valid {
					project += " (missing)"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", info.Name,
					info.CreatedAt.Local().Format(time.DateTime), info.Stats.Attachments,
					ui.FormatBytes(info.Size), project)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newSnapshotRestoreCmd(ro *rootOptions, manager snapshotManagerFunc) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the index with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			root, cfg, err := loadConfig(ro)
			if err != nil {
				return err
			}
			snap, err := m.Get(args[0])
			if err != nil {
				return raerrors.ValidationError(err.Error(), err).
					WithSuggestion("Run 'blackia-rag snapshot list' to see saved snapshots.")
			}
			if snap.ProjectPath != root && !force {
				return raerrors.ValidationError(
					fmt.Sprintf("snapshot %s was taken from %s, not %s", snap.Name, snap.ProjectPath, root), nil).
					WithSuggestion("Pass --force to restore it here anyway.")
			}

			dataDir := cfg.DataPath(root)
			lock := store.NewDirLock(dataDir)
			if err := lock.TryLock(); err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			if _, err := m.Restore(snap.Name, dataDir); err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), ro.colorDisabled())
			out.Successf("Restored snapshot %s (%d documents)", snap.Name, snap.Stats.Attachments)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Restore a snapshot taken from another project")
	return cmd
}

func newSnapshotDeleteCmd(ro *rootOptions, manager snapshotManagerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			if err := m.Delete(args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout(), ro.colorDisabled()).Successf("Deleted snapshot %s", args[0])
			return nil
		},
	}
}

func newSnapshotPruneCmd(ro *rootOptions, manager snapshotManagerFunc) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return raerrors.ValidationError("--older-than must be positive", nil)
			}
			m, err := manager()
			if err != nil {
				return err
			}
			deleted, err := m.Prune(olderThan)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), ro.colorDisabled())
			if len(deleted) == 0 {
				out.Info("Nothing to prune")
				return nil
			}
			for _, name := range deleted {
				out.Successf("Deleted snapshot %s", name)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age above which snapshots are deleted")
	return cmd
}
