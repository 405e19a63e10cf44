package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djlord-it/orbitops/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration (no connections made)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		if err := config.Validate(cfg); err != nil {
			return &exitError{code: exitInvalidConfig, err: err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print effective configuration as JSON (secrets masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := config.Load().MaskedJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "orbitops version %s (commit: %s)\n", version, commit)
	},
}
