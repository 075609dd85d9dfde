package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teelo/teelo/internal/model"
)

var (
	importName     string
	importActivate bool
)

var paramsImportCmd = &cobra.Command{
	Use:   "import FILE.yaml",
	Short: "Import a parameter set from a YAML file as a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read parameter file")
		}
		var params model.Params
		if err := yaml.Unmarshal(data, &params); err != nil {
			return eris.Wrap(err, "parse parameter file")
		}
		if len(params.Constants) == 0 {
			return eris.New("parameter file defines no level constants")
		}
		for level, c := range params.Constants {
			if c.K <= 0 || c.S <= 0 {
				return eris.Errorf("level %q has non-positive K or S", level)
			}
		}
		if params.InitialRating == 0 {
			params.InitialRating = model.DefaultInitialRating
		}

		name := importName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ps, err := st.CreateParameterSet(ctx, name, params, "import", importActivate)
		if err != nil {
			return err
		}

		status := "inactive"
		if ps.IsActive {
			status = "active"
		}
		fmt.Printf("imported %s (%s)\n", ps.VersionTag(), status)
		return nil
	},
}

func init() {
	paramsImportCmd.Flags().StringVar(&importName, "name", "", "parameter set name (default: file basename)")
	paramsImportCmd.Flags().BoolVar(&importActivate, "activate", false, "activate the imported version immediately")
	paramsCmd.AddCommand(paramsImportCmd)
}
