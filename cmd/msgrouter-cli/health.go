package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Check the health status of the msgrouter broker. Exits non-zero when unhealthy.",
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking health of %s...\n", serverURL)

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Fprintf(out, "✅ Broker is healthy!\n")
	} else {
		fmt.Fprintf(out, "❌ Broker is not healthy!\n")
	}
	fmt.Fprintf(out, "Running: %t\n", health.Running)
	fmt.Fprintf(out, "Topic Routes: %d\n", health.TopicRoutes)
	fmt.Fprintf(out, "Content Routes: %d\n", health.ContentRoutes)
	fmt.Fprintf(out, "Active Routes: %d\n", health.ActiveRoutes)
	fmt.Fprintf(out, "DLQ: %d/%d\n", health.DLQSize, health.DLQCapacity)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	if !health.Healthy {
		return errors.New("broker is not healthy")
	}
	return nil
}
