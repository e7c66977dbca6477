// Command dealerdash runs the dealer dashboard alert service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hearthline/dealerdash/internal/app"
	"github.com/hearthline/dealerdash/internal/conf"
	"github.com/hearthline/dealerdash/internal/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "dealerdash",
		Short:         "Order, payment and materials alerting for the dealer dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API and run scheduled alert checks",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app.App) error {
					return a.Run(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Run the alert checks once and print the report",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app.App) error {
					report := a.RunOnce(ctx)
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(report); err != nil {
						return err
					}
					if !report.Succeeded() {
						return errors.New("alert checks did not complete")
					}
					return nil
				})
			},
		},
	)
	return root
}

func withApp(parent context.Context, configPath string, fn func(context.Context, *app.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := conf.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(settings.Log.Level)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.NewFromConfig(logger.Config{
		Level:      level,
		Console:    settings.Log.Console,
		File:       settings.Log.File,
		MaxSizeMB:  settings.Log.MaxSizeMB,
		MaxBackups: settings.Log.MaxBackups,
		MaxAgeDays: settings.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.New(ctx, settings, log)
	if err != nil {
		log.Error("startup failed", logger.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown incomplete", logger.Error(err))
		}
	}()

	return fn(ctx, a)
}
