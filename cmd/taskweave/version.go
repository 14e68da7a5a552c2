package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set via -ldflags "-X main.version=..."
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskweave version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskweave %s\n", version)
	},
}
