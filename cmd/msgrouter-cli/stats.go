package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/httpclient"
)

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show broker statistics",
		Long:  "Display delivery counters and dead letter queue statistics",
		RunE:  runStats,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset the delivery counters (admin only)",
		RunE:  runStatsReset,
	})

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	stats, err := client.GetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📊 Broker Statistics:\n")
	fmt.Fprintf(out, "   Routed: %d\n", stats.Broker.MessagesRouted)
	fmt.Fprintf(out, "   Delivered: %d\n", stats.Broker.MessagesDelivered)
	fmt.Fprintf(out, "   Failed: %d\n", stats.Broker.MessagesFailed)
	fmt.Fprintf(out, "   Unrouted: %d\n", stats.Broker.MessagesUnrouted)
	fmt.Fprintf(out, "   Active Routes: %d\n", stats.Broker.ActiveRoutes)
	fmt.Fprintf(out, "   Since: %s\n", stats.Broker.LastReset.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(out, "\n📬 Dead Letter Queue:\n")
	printDLQStats(cmd, stats.DLQ)
	return nil
}

func runStatsReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	if err := client.ResetStats(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✅ Statistics reset")
	return nil
}

func printDLQStats(cmd *cobra.Command, stats httpclient.DLQStatistics) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "   Size: %d/%d\n", stats.CurrentSize, stats.MaxSize)
	fmt.Fprintf(out, "   Received: %d\n", stats.TotalReceived)
	fmt.Fprintf(out, "   Replayed: %d\n", stats.TotalReplayed)
	fmt.Fprintf(out, "   Purged: %d (expired %d)\n", stats.TotalPurged, stats.TotalExpired)
	fmt.Fprintf(out, "   Dropped: %d\n", stats.TotalDropped)

	if len(stats.FailureReasons) > 0 {
		fmt.Fprintf(out, "   Failure Reasons:\n")
		for _, reason := range slices.Sorted(maps.Keys(stats.FailureReasons)) {
			fmt.Fprintf(out, "     %s: %d\n", reason, stats.FailureReasons[reason])
		}
	}
}
