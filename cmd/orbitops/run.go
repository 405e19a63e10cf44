package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djlord-it/orbitops/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single scheduler pass and print its summary",
	Long: `Run one engine pass at the current time, as POST /scheduler/run does, and
print the summary as JSON. Useful from an external cron or a one-shot job.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, logger.Log, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.engine.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("scheduler pass failed: %w", err)
		}

		out, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
