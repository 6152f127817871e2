package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print govctl version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("govctl by Steward Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Built:      %s\n", buildDate)
	},
}
