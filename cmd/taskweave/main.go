package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskweave",
	Short: "AI-call orchestration and background job service",
	Long: `Taskweave runs the AI orchestration core for project planning:
background jobs with pollable status, cached AI calls with model
selection, non-repeating AI interviews, and duplicate-blocking for
work items.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "taskweave.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
