package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

// configPath is shared by every subcommand that reads the config file.
var configPath string

var rootCmd = &cobra.Command{
	Use:          "sessionagent",
	Short:        "Session-gated activity and screenshot agent",
	SilenceUsage: true,
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
}
