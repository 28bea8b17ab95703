package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the admin API",
		Long: `Authenticate with the admin API. With --secret the token carries admin
privileges; without it the token is read-only.`,
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	if err := client.Authenticate(ctx); err != nil {
		return err
	}

	token := client.GetToken()
	fmt.Fprintf(out, "✅ Authentication successful!\n")
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "\nYou can now use other commands or save this token for future use:\n")
	fmt.Fprintf(out, "  export %s=\"%s\"\n", tokenEnv, token)
	fmt.Fprintf(out, "  msgrouter-cli dlq list\n")

	return nil
}
