package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
	"github.com/Franck-BRT/BlackIA-sub003/pkg/version"
)

// versionReport adds the index schema this binary reads and writes.
type versionReport struct {
	version.BuildInfo
	SchemaVersion int `json:"schema_version"`
}

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, git commit, build date, Go version and the index
schema version this binary writes into new index databases.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			switch {
			case shortOutput:
				_, err := fmt.Fprintln(w, version.Short())
				return err
			case jsonOutput:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(versionReport{BuildInfo: version.GetInfo(), SchemaVersion: store.SchemaVersion})
			}
			_, err := fmt.Fprintf(w, "%s\nindex schema: v%d\n", version.String(), store.SchemaVersion)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")
	return cmd
}
