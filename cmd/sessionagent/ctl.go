package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctolnik/session-agent/config"
	"github.com/ctolnik/session-agent/control"
)

var (
	ctlAddr    string
	ctlTimeout int
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Send a command to a running agent",
}

func sendCommand(cmd *cobra.Command, req control.Request) error {
	client := control.NewClient(ctlAddr, ctlTimeout)
	reply, err := client.Send(cmd.Context(), req)
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("agent rejected %s: %s", req.Command, reply.Error)
	}
	cmd.Println("ok")
	return nil
}

func simpleCommand(use, short string, command control.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, control.Request{Command: command})
		},
	}
}

var ctlIntervalCmd = &cobra.Command{
	Use:   "interval <seconds>",
	Short: "Set the screenshot interval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid seconds %q: %w", args[0], err)
		}
		return sendCommand(cmd, control.Request{Command: control.CommandSetScreenshotInterval, Seconds: seconds})
	},
}

var ctlBackendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Print the collector address the agent reports to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := control.NewClient(ctlAddr, ctlTimeout).BackendAddress(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Println(addr)
		return nil
	},
}

var ctlStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := control.NewClient(ctlAddr, ctlTimeout).Status(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Active: %t\n", st.Active)
		cmd.Printf("Idle: %t\n", st.Idle)
		if st.CurrentLabel != "" {
			cmd.Printf("Foreground: %s\n", st.CurrentLabel)
		}
		cmd.Printf("Screenshot interval: %s\n", time.Duration(st.ScreenshotIntervalSeconds)*time.Second)
		return nil
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVar(&ctlAddr, "addr", config.DefaultListen, "Agent control address")
	ctlCmd.PersistentFlags().IntVar(&ctlTimeout, "timeout", 5, "Request timeout in seconds")

	ctlCmd.AddCommand(
		simpleCommand("start", "Start a session", control.CommandSessionStart),
		simpleCommand("end", "End the session", control.CommandSessionEnd),
		simpleCommand("activity", "Report user activity", control.CommandUserActivity),
		simpleCommand("capture", "Capture and upload a screenshot now", control.CommandCaptureScreenshotNow),
		ctlIntervalCmd,
		ctlBackendCmd,
		ctlStatusCmd,
	)
	rootCmd.AddCommand(ctlCmd)
}
