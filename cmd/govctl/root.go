// Package main implements the govctl CLI for manual operations against
// the governd daemon: reviewing and deciding pending approvals and
// checking daemon health.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/governd/pkg/client"
)

var (
	serverURL string
	userID    string
	tenantID  string
	roles     []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "govctl",
	Short: "CLI for governd daemon operations",
	Long: `govctl is a command-line interface for the governd daemon.
It lists and decides pending approval actions and checks daemon health.

Identity flags are forwarded as headers the same way the platform edge
sets them; the daemon trusts its caller to have authenticated.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "governd server URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user id asserted on requests")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id asserted on requests")
	rootCmd.PersistentFlags().StringSliceVar(&roles, "role", nil, "role asserted on requests (repeatable)")
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds a daemon client from the persistent flags.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if userID != "" || tenantID != "" {
		opts = append(opts, client.WithIdentity(userID, tenantID))
	}
	if len(roles) > 0 {
		opts = append(opts, client.WithRoles(roles...))
	}
	c, err := client.New(serverURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	return c, nil
}

// requireIdentity rejects commands that hit identity-gated endpoints
// before a round trip can fail with a less helpful 401.
func requireIdentity() error {
	if userID == "" || tenantID == "" {
		return fmt.Errorf("--user and --tenant are required for this command")
	}
	return nil
}
