package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ctolnik/session-agent/config"
	"github.com/ctolnik/session-agent/httpclient"
	"github.com/ctolnik/session-agent/journal"
)

var diagnosticsLimit int

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Check the backend and print recent failures from the diagnostic journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}

		if cfg.Agent.BackendURL != "" {
			client := httpclient.NewClient(httpclient.Config{
				ServerURL:      cfg.BackendAddress(),
				TimeoutSeconds: cfg.Agent.TimeoutSeconds,
			})
			if err := client.Ping(cmd.Context()); err != nil {
				cmd.Printf("backend %s unreachable: %v\n", cfg.BackendAddress(), err)
			} else {
				cmd.Printf("backend %s reachable\n", cfg.BackendAddress())
			}
		}

		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()

		entries, err := j.Recent(diagnosticsLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("no entries")
			return nil
		}
		for _, e := range entries {
			cmd.Printf("%s  %-5s  %-8s  %s", e.Time.Local().Format(time.RFC3339), e.Level, e.Component, e.Message)
			if e.Error != "" {
				cmd.Printf(": %s", e.Error)
			}
			cmd.Println()
		}
		return nil
	},
}

func init() {
	diagnosticsCmd.Flags().IntVar(&diagnosticsLimit, "limit", 20, "Number of entries to show")
	rootCmd.AddCommand(diagnosticsCmd)
}
