// Package main provides the prism command line: the analysis worker
// plus administrative commands for files, jobs and results.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Prism file intake and AI analysis coordinator",
	Long:  "Prism ingests investment documents into object storage, queues analysis jobs and runs workers that execute them against AI providers, with content-hash deduplication of results.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
