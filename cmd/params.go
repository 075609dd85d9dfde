package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Manage versioned rating parameter sets",
}

var paramsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all parameter set versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sets, err := st.ListParameterSets(ctx)
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			fmt.Println("no parameter sets; runs use built-in defaults (defaults@v1)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TAG\tSOURCE\tACTIVE\tCREATED")
		for _, s := range sets {
			active := ""
			if s.IsActive {
				active = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.VersionTag(), s.Source, active, s.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var paramsShowCmd = &cobra.Command{
	Use:   "show NAME[@vN]",
	Short: "Print one parameter set as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		name, version, err := splitParamsTag(args[0])
		if err != nil {
			return err
		}
		ps, err := st.GetParameterSet(ctx, name, version)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(ps, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal parameter set")
		}
		fmt.Println(string(out))
		return nil
	},
}

var paramsActivateCmd = &cobra.Command{
	Use:   "activate NAME@vN",
	Short: "Make one parameter set version active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		name, version, err := splitParamsTag(args[0])
		if err != nil {
			return err
		}
		if version == 0 {
			return eris.New("activation requires an explicit version, e.g. season-2026@v3")
		}
		if err := st.ActivateParameterSet(ctx, name, version); err != nil {
			return err
		}
		fmt.Printf("activated %s@v%d\n", name, version)
		return nil
	},
}

// splitParamsTag parses "name" or "name@vN". Version 0 means latest.
func splitParamsTag(tag string) (string, int, error) {
	name, ver, found := strings.Cut(tag, "@")
	if !found {
		return tag, 0, nil
	}
	if name == "" || !strings.HasPrefix(ver, "v") {
		return "", 0, eris.Errorf("malformed parameter tag %q, want name[@vN]", tag)
	}
	n, err := strconv.Atoi(ver[1:])
	if err != nil || n <= 0 {
		return "", 0, eris.Errorf("malformed version in %q", tag)
	}
	return name, n, nil
}

func init() {
	paramsCmd.AddCommand(paramsListCmd)
	paramsCmd.AddCommand(paramsShowCmd)
	paramsCmd.AddCommand(paramsActivateCmd)
	rootCmd.AddCommand(paramsCmd)
}
