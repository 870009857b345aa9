package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fogmesh/fogmesh/pkg/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fogcoord",
	Short: "Fog compute coordinator",
	Long:  `Registers fog nodes, routes tasks onto them and watches their heartbeats.`,

	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML, JSON or TOML)")
}

// loadViper layers defaults, the optional config file and FOG_* variables.
func loadViper() (*viper.Viper, error) {
	v := config.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}
	return v, nil
}

func loadConfig() (*config.Config, error) {
	v, err := loadViper()
	if err != nil {
		return nil, err
	}
	return config.FromViper(v)
}
