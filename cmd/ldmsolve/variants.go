package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ldmsolve/ldmsolve/envconfig"
	"github.com/ldmsolve/ldmsolve/solver"
)

var variantDescriptions = map[string]string{
	"ddim": "unconditional sampling, ignores the measurement",
	"treg": "CG data consistency every Nth step, optional DPS and adaptive negation",
	"psld": "per-step gradient correction with orthogonal-projection residual",
	"p2l":  "per-step prompt tuning plus measurement-residual correction",
}

func newVariantsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List the available solver variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Variant", "Description"})
			table.SetBorder(false)

			for _, name := range solver.DefaultRegistry().Names() {
				table.Append([]string{name, variantDescriptions[name]})
			}
			table.Render()
			return nil
		},
	}
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the effective environment configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			vars := envconfig.AsMap()
			names := make([]string, 0, len(vars))
			for name := range vars {
				names = append(names, name)
			}
			sort.Strings(names)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Variable", "Value", "Description"})
			table.SetBorder(false)

			for _, name := range names {
				v := vars[name]
				table.Append([]string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
			}
			table.Render()
			return nil
		},
	}
}
