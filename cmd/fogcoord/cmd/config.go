package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fogmesh/fogmesh/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect coordinator configuration",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadViper()
		if err != nil {
			return err
		}
		if _, err := config.FromViper(v); err != nil {
			return err
		}

		out, err := yaml.Marshal(v.AllSettings())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadViper()
		if err != nil {
			return err
		}
		if !v.IsSet(args[0]) {
			fmt.Fprintln(cmd.OutOrStdout(), "Not set")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.Get(args[0]))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configGetCmd)
	rootCmd.AddCommand(configCmd)
}
