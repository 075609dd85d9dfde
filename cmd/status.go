package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teelo/teelo/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending work, checkpoints, and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pending, err := st.CountPending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pending matches: %d\n", pending)

		active, err := st.ActiveParameterSet(ctx)
		if err != nil {
			return err
		}
		if active != nil {
			fmt.Printf("active params:   %s\n", active.VersionTag())
		} else {
			fmt.Printf("active params:   %s (built-in)\n", model.DefaultParamsVersion)
		}

		for _, key := range []string{model.CheckpointIncremental, model.CheckpointRebuild} {
			ck, err := st.GetCheckpoint(ctx, key)
			if err != nil {
				return err
			}
			if ck == nil {
				fmt.Printf("%-12s checkpoint: none\n", key)
				continue
			}
			fmt.Printf("%-12s checkpoint: phase=%s params=%s cursor=(%d,%d) at %s\n",
				key, ck.Phase, ck.ParamsVersion,
				ck.Cursor.TemporalOrder, ck.Cursor.MatchID,
				ck.UpdatedAt.Format(time.RFC3339))
		}

		runs, err := st.ListRuns(ctx, 10)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}

		fmt.Println("\nrecent runs:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tSTATUS\tPARAMS\tPROCESSED\tFLAGGED\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				r.Mode, r.Status, r.ParamsVersion, r.Processed, r.Flagged,
				r.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
