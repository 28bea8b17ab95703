package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/httpclient"
)

// tokenEnv supplies the default for --token
const tokenEnv = "MSGROUTER_TOKEN"

var (
	// Global flags
	serverURL string
	clientID  string
	secret    string
	token     string
	timeout   time.Duration

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "msgrouter-cli",
		Short: "msgrouter admin API command line interface",
		Long: `msgrouter-cli is a command line interface for the msgrouter admin API.
It provides commands for inspecting and toggling routes, reading statistics,
injecting test messages and managing the dead letter queue.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081", "msgrouter admin API URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "msgrouter-cli", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "Admin secret; omit for a read-only token")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv(tokenEnv), "JWT token (defaults to $"+tokenEnv+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// Add subcommands
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newRoutesCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newDLQCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	config := httpclient.Config{
		ServerURL: serverURL,
		ClientID:  clientID,
		Secret:    secret,
		Timeout:   timeout,
	}

	var err error
	client, err = httpclient.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	}
	return nil
}

// requireAuthentication ensures the client holds a token, logging in with
// --secret when none was supplied
func requireAuthentication(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if client.IsAuthenticated() {
		return nil
	}
	if secret == "" {
		return fmt.Errorf("not authenticated - run 'msgrouter-cli auth' first or provide --token or --secret")
	}
	return client.Authenticate(ctx)
}

// commandContext returns a context bounded by --timeout
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
