/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foodior/apiserver/config"
	"github.com/foodior/apiserver/internal/server"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "foodior",
	Short: "Recipe sharing API server",
	Long: `foodior serves the recipe sharing REST API and its maintenance jobs.

	foodior server
	foodior migrate up
	foodior worker
	foodior reconcile
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// openApp loads the configuration and connects every dependency.
func openApp(ctx context.Context) (*server.App, error) {
	cfg := config.LoadConfig()
	logger := server.NewLogger(cfg.Log, os.Stderr)
	return server.NewApp(ctx, cfg, logger)
}
