package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djlord-it/orbitops/internal/logger"
	"github.com/djlord-it/orbitops/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load associates, templates and automations from a YAML file",
	Long: `Load a YAML fixture through the same validation as the HTTP API.

Associates are matched by email and templates by title, so existing ones are
reused. Automations are always created.`,
	Example: `  orbitops seed -f fixtures/team.yaml`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if seedFile == "" {
			return &exitError{code: exitInvalidConfig, err: errors.New("--file is required")}
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := seed.LoadFile(seedFile)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg, logger.Log)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		res, err := seed.NewSeeder(st, logger.Log).Apply(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "associates: %d created, %d existing\n", res.AssociatesCreated, res.AssociatesExisting)
		fmt.Fprintf(cmd.OutOrStdout(), "templates: %d created, %d existing\n", res.TemplatesCreated, res.TemplatesExisting)
		fmt.Fprintf(cmd.OutOrStdout(), "automations: %d created\n", res.AutomationsCreated)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "path to the YAML fixture")
}
