package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/djlord-it/orbitops/internal/analytics"
	"github.com/djlord-it/orbitops/internal/logger"
)

var statsDay string

var statsCmd = &cobra.Command{
	Use:   "stats <automation-id>",
	Short: "Print an automation's sent and failed counts for one UTC day",
	Long: `Read the analytics counters kept in Redis (REDIS_ADDR) for one automation.
The day defaults to today in UTC.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.RedisAddr == "" {
			return &exitError{code: exitInvalidConfig, err: errors.New("REDIS_ADDR is not set; analytics are disabled")}
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return &exitError{code: exitInvalidConfig, err: fmt.Errorf("invalid automation id %q", args[0])}
		}
		day := time.Now().UTC()
		if statsDay != "" {
			day, err = time.Parse("2006-01-02", statsDay)
			if err != nil {
				return &exitError{code: exitInvalidConfig, err: fmt.Errorf("invalid --day %q: want YYYY-MM-DD", statsDay)}
			}
		}

		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()

		sent, failed, err := analytics.NewRedisSink(client, cfg.AnalyticsRetention, logger.Log).
			DailyCounts(cmd.Context(), id, day)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s sent=%d failed=%d\n", id, day.Format("2006-01-02"), sent, failed)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsDay, "day", "", "UTC day as YYYY-MM-DD (default: today)")
}
