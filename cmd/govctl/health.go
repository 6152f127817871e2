package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/governd/pkg/client"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check governd daemon health",
	Long: `Check the governd daemon: process liveness plus the aggregate
degradation level and per-service detail.

Examples:
  govctl health
  govctl health --server http://governd.internal:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	live, err := c.Liveness(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to reach %s: %v\n", serverURL, err)
		return err
	}
	fmt.Printf("Server:  %s (%s %s)\n", serverURL, live.Service, live.Version)
	fmt.Printf("Status:  %s\n", live.Status)

	report, err := c.Health(ctx)
	var apiErr *client.APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable) {
		return err
	}
	fmt.Printf("Level:   %s\n", report.Level)

	if len(report.Services) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tAVAILABLE\tLEVEL\tLAST ERROR")
		for _, svc := range report.Services {
			lastErr := svc.LastError
			if lastErr == "" {
				lastErr = "-"
			}
			fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", svc.Name, svc.Available, svc.Level, lastErr)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if err != nil {
		// Offline daemons answer 503; the report above still printed.
		return err
	}
	return nil
}
