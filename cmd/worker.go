/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// workerCmd consumes queued media cleanup jobs.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Retries media deletions that failed during requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		defer func() {
			_ = app.Close(context.Background())
		}()

		if app.Queue == nil {
			return errors.New("worker needs MQ_BACKEND to be rabbitmq or pubsub")
		}

		channel := app.Config.MQ.MediaChannel
		app.Logger.Info("worker consuming", "channel", channel, "backend", app.Config.MQ.Backend)
		err = app.Queue.Subscribe(ctx, channel, app.Janitor.HandleCleanup)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("worker stopped: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
