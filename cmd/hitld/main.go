// Package main implements the hitld CLI: a human-in-the-loop pipeline
// orchestration daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hitld",
	Short: "Human-in-the-loop pipeline orchestration daemon",
	Long: `hitld orchestrates a multi-agent pipeline with human-in-the-loop
clarifications: agents ask questions, answers are validated and reused,
and workflow state is continuously reconciled.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hitld %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}
