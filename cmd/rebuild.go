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
	rebuildParams    string
	rebuildBatchSize int
	rebuildForce     bool
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute all ratings from scratch",
	Long:  "Replays the full match log in total order under a pinned parameter set. Resumes from its checkpoint after an interruption; a completed rebuild under the same parameters is a no-op unless --force is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "rebuild"))

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		params, tag, err := engine.ResolveParameterSet(ctx, st, rebuildParams)
		if err != nil {
			return err
		}

		batchSize := rebuildBatchSize
		if batchSize <= 0 {
			batchSize = cfg.Engine.BatchSize
		}

		eng := engine.New(st, params, tag, engine.Config{
			BatchSize: batchSize,
			LockTTL:   time.Duration(cfg.Engine.LockTTLSecs) * time.Second,
		})

		sum, err := eng.RunRebuild(ctx, rebuildForce)
		if eris.Is(err, engine.ErrLockUnavailable) {
			log.Warn("another rating run is in progress, try again later")
			return err
		}
		if err != nil {
			return err
		}

		fmt.Printf("rebuilt %d matches in %s (params %s)\n",
			sum.Processed, sum.Duration.Round(time.Millisecond), tag)
		return nil
	},
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildParams, "params", "", "parameter set to pin, name[@vN] (default: active set)")
	rebuildCmd.Flags().IntVar(&rebuildBatchSize, "batch-size", 0, "matches per commit (default from config)")
	rebuildCmd.Flags().BoolVar(&rebuildForce, "force", false, "replay even if a rebuild under these parameters already completed")
	rootCmd.AddCommand(rebuildCmd)
}
