package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teelo/teelo/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "teelo",
	Short: "Tennis Elo rating engine",
	Long:  "Computes Elo ratings over the ordered match log: incremental updates for newly completed matches and deterministic full rebuilds under versioned parameter sets.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
