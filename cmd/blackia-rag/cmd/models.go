package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	"github.com/Franck-BRT/BlackIA-sub003/internal/lifecycle"
	"github.com/Franck-BRT/BlackIA-sub003/internal/output"
)

func newModelsCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and pull the local text embedding model",
		Long: `Manage the Ollama service behind text embeddings.

'models status' reports whether ollama is installed and running and
whether embeddings.model is pulled. 'models pull' pulls it, starting
the service first with --start.`,
	}
	cmd.AddCommand(newModelsStatusCmd(ro))
	cmd.AddCommand(newModelsPullCmd(ro))
	return cmd
}

func newModelsStatusCmd(ro *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the embedding service and model status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ollamaConfig(ro)
			if err != nil {
				return err
			}
			if cfg == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Text embeddings do not use ollama; nothing to manage.")
				return nil
			}
			m := lifecycle.NewOllamaManager(cfg.Embeddings.OllamaHost)
			st, err := m.Status(cmd.Context(), cfg.Embeddings.Model)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			out := output.New(cmd.OutOrStdout(), ro.colorDisabled())
			out.Header("Ollama")
			out.Newline()
			switch {
			case st.Installed:
				out.Successf("Installed: %s", st.InstalledPath)
			case m.IsRemoteHost():
				out.Info("Installed: remote host")
			default:
				out.Warning("Not installed")
				out.Detail(lifecycle.InstallInstructions())
			}
			if !st.Running {
				out.Errorf("Not running at %s", st.Host)
				out.Detail("Run 'ollama serve' or 'blackia-rag models pull --start'.")
				return nil
			}
			out.Successf("Running at %s", st.Host)
			if st.HasModel {
				out.Successf("Model %s is pulled", st.TargetModel)
			} else {
				out.Warningf("Model %s is not pulled", st.TargetModel)
				out.Detail("Run 'blackia-rag models pull'.")
			}
			if len(st.Models) > 0 {
				out.Newline()
				out.Info("Available models:")
				for _, name := range st.Models {
					out.Detail(name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func newModelsPullCmd(ro *rootOptions) *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:   "pull [model]",
		Short: "Pull the text embedding model (default: embeddings.model)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := ollamaConfig(ro)
			if err != nil {
				return err
			}
			if cfg == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Text embeddings do not use ollama; nothing to pull.")
				return nil
			}
			model := cfg.Embeddings.Model
			if len(args) == 1 {
				model = args[0]
			}
			m := lifecycle.NewOllamaManager(cfg.Embeddings.OllamaHost)
			w := cmd.OutOrStdout()
			if err := m.EnsureReady(ctx, model, lifecycle.EnsureOpts{
				AutoStart: start,
				AutoPull:  true,
				Progress:  lifecycle.PullPrinter(w, ro.colorDisabled()),
				Out:       w,
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s is ready at %s\n", model, m.Host())
			return nil
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "Start ollama if it is not running")
	return cmd
}

// ollamaConfig loads the configuration, or returns nil when text
// embeddings come from another provider.
func ollamaConfig(ro *rootOptions) (*config.Config, error) {
	// --offline only changes the provider of this run; the service is still
	// managed for later ones.
	offline := ro.offline
	ro.offline = false
	_, cfg, err := loadConfig(ro)
	ro.offline = offline
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(cfg.Embeddings.Provider, string(embed.ProviderOllama)) {
		return nil, nil
	}
	return cfg, nil
}
