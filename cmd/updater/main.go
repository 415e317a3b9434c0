package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "updater",
		Short: "Game update orchestrator",
		Long: `Runs game updates one at a time through the update tool and keeps
other instances informed over the message bus.

Configuration is loaded from a YAML file given with --config, falling back
to ./config.yaml and /etc/gameupdater/config.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	rootCmd.AddCommand(newTokenCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
