package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage the dead letter queue",
		Long:  "List, replay and purge messages held in the dead letter queue",
	}

	cmd.AddCommand(newDLQListCommand())
	cmd.AddCommand(newDLQStatsCommand())
	cmd.AddCommand(newDLQReplayCommand())
	cmd.AddCommand(newDLQPurgeCommand())

	return cmd
}

func newDLQListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDLQList(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to show (0 for all)")
	return cmd
}

func runDLQList(cmd *cobra.Command, limit int) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	response, err := client.ListDLQ(ctx, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if response.Count == 0 {
		fmt.Fprintln(out, "Dead letter queue is empty")
		return nil
	}

	fmt.Fprintf(out, "Showing %d of %d entries:\n\n", response.Count, response.Total)
	for i, entry := range response.Entries {
		fmt.Fprintf(out, "%d. Message ID: %s\n", i+1, entry.Message.ID)
		fmt.Fprintf(out, "   Topic: %s\n", entry.Message.Topic)
		if entry.RouteID != "" {
			fmt.Fprintf(out, "   Route: %s (%s)\n", entry.RouteID, entry.Kind)
		}
		fmt.Fprintf(out, "   Reason: %s\n", entry.FailureReason)
		fmt.Fprintf(out, "   Failed At: %s\n", entry.FailedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "   Retries: %d\n", entry.RetryCount)
		if entry.LastError != "" {
			fmt.Fprintf(out, "   Last Error: %s\n", entry.LastError)
		}
	}
	return nil
}

func newDLQStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dead letter queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := requireAuthentication(ctx); err != nil {
				return err
			}

			stats, err := client.DLQStats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📬 Dead Letter Queue:\n")
			printDLQStats(cmd, *stats)
			return nil
		},
	}
}

func newDLQReplayCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "replay [message-id]",
		Short: "Replay one entry, or every entry with --all (admin only)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("specify either a message ID or --all")
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := requireAuthentication(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if all {
				response, err := client.ReplayAllDLQ(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "✅ Replayed %d entries, %d remaining\n", response.Replayed, response.Remaining)
				return nil
			}

			response, err := client.ReplayDLQ(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✅ Replayed %s, %d remaining\n", args[0], response.Remaining)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Replay every entry")
	return cmd
}

func newDLQPurgeCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove dead letter entries (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than cannot be negative")
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := requireAuthentication(ctx); err != nil {
				return err
			}

			response, err := client.PurgeDLQ(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Purged %d entries, %d remaining\n", response.Purged, response.Remaining)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only purge entries older than this age (0 purges everything)")
	return cmd
}
