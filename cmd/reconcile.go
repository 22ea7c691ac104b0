/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// reconcileCmd repairs follow asymmetry and stale recipe references.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair follower/following mirrors and recipe back-references",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to start reconcile: %w", err)
		}
		defer func() {
			_ = app.Close(context.Background())
		}()

		// Reconcile logs its own report.
		if _, err := app.Relations.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
