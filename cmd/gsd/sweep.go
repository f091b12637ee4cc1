package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixgraph/graphstream/internal/config"
	"github.com/helixgraph/graphstream/internal/store/postgres"
	"github.com/helixgraph/graphstream/internal/subscriptions"
)

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	Short:   "Remove expired and stale subscriptions once and exit",
	GroupID: "tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		registry := subscriptions.New(store, logger)
		removed, err := registry.CleanupExpired(context.Background())
		if err != nil {
			return fmt.Errorf("sweeping subscriptions: %w", err)
		}

		fmt.Printf("Removed %d subscription(s)\n", removed)
		return nil
	},
}
