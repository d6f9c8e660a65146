package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "bulkloader",
		Short: "Bulkloader - Resumable bulk import for the hospital directory",
		Long: `Bulkloader imports hospital records in bulk into the remote directory
service. It processes CSV batches under a concurrency cap, checkpoints
failed batches to disk, and resumes them without re-submitting rows
that already succeeded.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
