package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/httpclient"
)

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List and manage routes",
		Long:  "List routes, or enable, disable and delete them (admin only for changes)",
		RunE:  runRoutesList,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a single route",
		Args:  cobra.ExactArgs(1),
		RunE:  runRoutesGet,
	})
	cmd.AddCommand(newRouteChangeCommand("enable", "Enable a route", "enabled",
		func(ctx context.Context, id string) error { return client.EnableRoute(ctx, id) }))
	cmd.AddCommand(newRouteChangeCommand("disable", "Disable a route", "disabled",
		func(ctx context.Context, id string) error { return client.DisableRoute(ctx, id) }))
	cmd.AddCommand(newRouteChangeCommand("delete", "Delete a route", "deleted",
		func(ctx context.Context, id string) error { return client.DeleteRoute(ctx, id) }))

	return cmd
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	response, err := client.ListRoutes(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if response.Count == 0 {
		fmt.Fprintln(out, "No routes registered")
		return nil
	}

	fmt.Fprintf(out, "Found %d route(s):\n\n", response.Count)
	for i, route := range response.Routes {
		fmt.Fprintf(out, "%d. ", i+1)
		printRoute(out, route)
	}
	return nil
}

func runRoutesGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	route, err := client.GetRoute(ctx, args[0])
	if err != nil {
		return err
	}
	printRoute(cmd.OutOrStdout(), *route)
	return nil
}

func newRouteChangeCommand(use, short, done string, change func(ctx context.Context, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := requireAuthentication(ctx); err != nil {
				return err
			}

			if err := change(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Route %s %s\n", args[0], done)
			return nil
		},
	}
}

func printRoute(out io.Writer, route httpclient.RouteInfo) {
	state := "active"
	if !route.Active {
		state = "disabled"
	}

	fmt.Fprintf(out, "%s (%s, %s)\n", route.ID, route.Kind, state)
	if route.Pattern != "" {
		fmt.Fprintf(out, "   Pattern: %s\n", route.Pattern)
	}
	fmt.Fprintf(out, "   Priority: %d\n", route.Priority)
	fmt.Fprintf(out, "   Processed: %d\n", route.MessagesProcessed)
	fmt.Fprintf(out, "   Created: %s\n", route.CreatedAt.Format("2006-01-02 15:04:05"))
}
