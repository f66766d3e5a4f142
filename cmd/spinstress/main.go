package main

import (
	"os"

	"github.com/go-spin/spinlock/cmd/spinstress/scenario"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:          "spinstress",
	Short:        "contend the spin mutex protocols and count lost updates",
	Long:         "spinstress drives goroutines through the naive, cas and spin lock protocols and reports whether any increments were lost.",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(scenario.RunCmd)
	rootCmd.AddCommand(scenario.InitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
