package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teelo/teelo/internal/engine"
)

var (
	updateBatchSize  int
	updateMaxMatches int
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Process newly completed matches incrementally",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "update"))

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		params, tag, err := engine.ResolveParameterSet(ctx, st, "")
		if err != nil {
			return err
		}

		batchSize := updateBatchSize
		if batchSize <= 0 {
			batchSize = cfg.Engine.BatchSize
		}
		maxMatches := updateMaxMatches
		if maxMatches <= 0 {
			maxMatches = cfg.Engine.MaxMatches
		}

		eng := engine.New(st, params, tag, engine.Config{
			BatchSize:  batchSize,
			MaxMatches: maxMatches,
			LockTTL:    time.Duration(cfg.Engine.LockTTLSecs) * time.Second,
		})

		sum, err := eng.RunIncremental(ctx)
		if eris.Is(err, engine.ErrLockUnavailable) {
			log.Warn("another rating run is in progress, try again later")
			return err
		}
		if err != nil {
			return err
		}

		fmt.Printf("scanned %d, processed %d, flagged %d in %s (params %s)\n",
			sum.Scanned, sum.Processed, sum.Flagged, sum.Duration.Round(time.Millisecond), tag)
		return nil
	},
}

func init() {
	updateCmd.Flags().IntVar(&updateBatchSize, "batch-size", 0, "matches per commit (default from config)")
	updateCmd.Flags().IntVar(&updateMaxMatches, "max-matches", 0, "stop after scanning this many matches (0 = all)")
	rootCmd.AddCommand(updateCmd)
}
