package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/grid"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Manage the geographic reference table",
}

var geoLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load named places from a YAML seed file",
	Long:  "Upserts places into the reference table the submitter resolves --targets against. Existing places with the same name are updated.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		seeds, err := grid.LoadPlacesFile(args[0])
		if err != nil {
			return eris.Wrap(err, "load places file")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.UpsertPlaces(ctx, seeds)
		if err != nil {
			return eris.Wrap(err, "upsert places")
		}

		fmt.Printf("Loaded %d places\n", n)
		return nil
	},
}

func init() {
	geoCmd.AddCommand(geoLoadCmd)
	rootCmd.AddCommand(geoCmd)
}
