package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/saas2guys/fingate/domain/route"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the endpoint table",
	Long: `Print the static routing table: every public endpoint with its
provider targets, cache class and required capabilities.`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	routes := route.Table()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tPROVIDERS\tCACHE\tREQUIRES")
	for _, rt := range routes {
		caps := make([]string, len(rt.Requires))
		for i, c := range rt.Requires {
			caps[i] = string(c)
		}
		requires := strings.Join(caps, ",")
		if requires == "" {
			requires = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rt.Pattern, strings.Join(rt.Providers(), ","), rt.Cache, requires)
	}
	return w.Flush()
}
