package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Franck-BRT/BlackIA-sub003/configs"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	"github.com/Franck-BRT/BlackIA-sub003/internal/output"
)

func newConfigCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Create and inspect configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/blackia/config.yaml)
  3. Project config (.blackia.yaml in --root)
  4. .env in --root
  5. Environment variables (BLACKIA_*)`,
		Example: `  # Create .blackia.yaml in the project root
  blackia-rag config init

  # Create the user config
  blackia-rag config init --user

  # Show the merged configuration
  blackia-rag config show`,
	}

	cmd.AddCommand(newConfigInitCmd(ro))
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigPathCmd(ro))
	return cmd
}

func newConfigInitCmd(ro *rootOptions) *cobra.Command {
	var user, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file from the template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout(), ro.colorDisabled())

			path, tmpl, err := configTarget(ro, user)
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warning("Configuration already exists")
					out.Detail(path)
					out.Info("Use --force to replace it (a backup is kept)")
					return nil
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return err
				}
				out.Infof("Backup: %s", backup)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(tmpl), 0o644); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			out.Successf("Created %s", path)
			out.Info("Run 'blackia-rag config show' to check the merged result")
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	return cmd
}

// configTarget returns the file written by config init and its template.
func configTarget(ro *rootOptions, user bool) (string, string, error) {
	if user {
		return config.GetUserConfigPath(), configs.UserConfigTemplate, nil
	}
	root, err := filepath.Abs(ro.root)
	if err != nil {
		return "", "", fmt.Errorf("resolve root: %w", err)
	}
	return filepath.Join(root, ".blackia.yaml"), configs.ProjectConfigTemplate, nil
}

func newConfigShowCmd(ro *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromSource(ro, source)
			if err != nil {
				return err
			}
			if cfg == nil {
				out := output.New(cmd.OutOrStdout(), ro.colorDisabled())
				out.Warningf("No %s configuration file found", source)
				out.Info("Run 'blackia-rag config init' to create one")
				return nil
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = w.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project or defaults")
	return cmd
}

// configFromSource loads one layer of the configuration. It returns nil
// when the requested file does not exist.
func configFromSource(ro *rootOptions, source string) (*config.Config, error) {
	switch source {
	case "merged":
		_, cfg, err := loadConfig(ro)
		return cfg, err
	case "defaults":
		return config.NewConfig(), nil
	case "user":
		path := config.GetUserConfigPath()
		if _, err := os.Stat(path); err != nil {
			return nil, nil
		}
		return config.LoadFile(path)
	case "project":
		root, err := filepath.Abs(ro.root)
		if err != nil {
			return nil, fmt.Errorf("resolve root: %w", err)
		}
		path := config.ProjectConfigPath(root)
		if path == "" {
			return nil, nil
		}
		return config.LoadFile(path)
	default:
		return nil, raerrors.ValidationError(
			fmt.Sprintf("unknown source %q (want merged, user, project or defaults)", source), nil)
	}
}

func newConfigPathCmd(ro *rootOptions) *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _, err := configTarget(ro, user)
			if err != nil {
				return err
			}
			if !user {
				root, _ := filepath.Abs(ro.root)
				if existing := config.ProjectConfigPath(root); existing != "" {
					path = existing
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Print the user config path")
	return cmd
}
