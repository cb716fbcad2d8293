package main

import (
	"os"

	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "locations",
	Short: "Map location store with bidirectional connections",
	Long: `Serves the locations API and runs maintenance tasks against the
configured attribute store (memory, postgres, sqlite or redis).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files read before the process environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
