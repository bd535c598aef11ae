package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ctolnik/session-agent/agent"
	"github.com/ctolnik/session-agent/config"
	"github.com/ctolnik/session-agent/journal"
	"github.com/ctolnik/session-agent/logger"
	"github.com/ctolnik/session-agent/zapctx"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		if err := cfg.RequireBackend(); err != nil {
			return err
		}

		var (
			j          *journal.Journal
			journalErr error
			cores      []zapcore.Core
		)
		if cfg.Journal.Enabled {
			j, journalErr = journal.Open(cfg.Journal.Path)
			if journalErr == nil {
				cores = append(cores, journal.NewCore(j, zapcore.WarnLevel))
			}
		}

		log, err := logger.New(cfg.Logging, cores...)
		if err != nil {
			if j != nil {
				_ = j.Close()
			}
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer log.Sync()

		log.Info("Session agent starting",
			zap.String("version", version),
			zap.String("backend", cfg.BackendAddress()),
			zap.String("control", cfg.Control.Listen),
		)
		if journalErr != nil {
			log.Warn("Diagnostic journal disabled", zap.Error(journalErr))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = zapctx.WithLogger(ctx, log)

		deps := agent.Deps{Journal: j}
		if _, statErr := os.Stat(configPath); statErr == nil {
			deps.ConfigPath = configPath
		}

		a, err := agent.New(ctx, cfg, deps)
		if err != nil {
			if j != nil {
				_ = j.Close()
			}
			return err
		}
		defer func() {
			err = multierr.Append(err, a.Close())
		}()

		if err := a.Run(ctx); err != nil {
			return err
		}
		log.Info("Shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
