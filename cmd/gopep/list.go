package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/perfest/gopep/examples"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in studies",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDEFAULTS\tDESCRIPTION")
		for _, e := range examples.All() {
			defaults := fmt.Sprintf("n=%d", e.Defaults.N)
			if e.Defaults.Gamma != 0 {
				defaults += fmt.Sprintf(" gamma=%g", e.Defaults.Gamma)
			}
			if e.Defaults.L != 0 {
				defaults += fmt.Sprintf(" l=%g", e.Defaults.L)
			}
			if e.Defaults.DimensionReduction != "" {
				defaults += " dimred=" + e.Defaults.DimensionReduction
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, defaults, e.Description)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
