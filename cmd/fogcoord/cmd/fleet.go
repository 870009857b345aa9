package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/olympus"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Work with fleet seed files",
}

var fleetValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a fleet file and summarise its capacity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := olympus.LoadFleet(args[0])
		if err != nil {
			return err
		}

		t := olympus.Aggregate(fleet.Nodes)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "nodes: %d\n", t.TotalNodes)
		for _, typ := range domain.NodeTypes {
			if n := t.NodesByType[typ]; n > 0 {
				fmt.Fprintf(out, "  %s: %d\n", typ, n)
			}
		}
		fmt.Fprintf(out, "cpu_cores: %d\n", t.TotalCPUCores)
		fmt.Fprintf(out, "memory_mb: %d\n", t.TotalMemoryMB)
		return nil
	},
}

func init() {
	fleetCmd.AddCommand(fleetValidateCmd)
	rootCmd.AddCommand(fleetCmd)
}
