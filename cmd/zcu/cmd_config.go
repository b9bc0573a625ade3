package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"zcu/internal/config"
)

// newConfigCmd creates the "zcu config" command group.
func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize settings",
	}
	cmd.AddCommand(newConfigShowCmd(opts), newConfigInitCmd(opts))
	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.project)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if opts.agent != "" {
				cfg.Settings.AgentID = opts.agent
			}
			data, err := yaml.Marshal(cfg.Settings)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", cfg.SettingsPath(), data)
			return nil
		},
	}
}

func newConfigInitCmd(opts *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.project)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			path := cfg.SettingsPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config: %s already exists (use --force to overwrite)", path)
			}
			if err := cfg.WriteSettings(config.DefaultSettings()); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	return cmd
}
