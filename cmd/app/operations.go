package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"image-pipeline/internal/catalog"
	"image-pipeline/internal/operations"
)

var operationsJSON bool

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List available operations and their parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := initLogger(cfg.Log.Debug)

		registry := operations.Default(logger)
		defer registry.Close()

		entries, err := catalog.Operations(registry)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if operationsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"operations": entries,
				"categories": catalog.Categories(),
			})
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCATEGORY\tPARAMETERS\tDESCRIPTION")
		for _, e := range entries {
			category := e.Category
			if e.Subcategory != "" {
				category += "/" + e.Subcategory
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, category, strings.Join(e.Schema.Names(), ","), e.Description)
		}
		return w.Flush()
	},
}

func init() {
	operationsCmd.Flags().BoolVar(&operationsJSON, "json", false, "print the catalog as JSON")
}
