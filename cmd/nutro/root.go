package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "nutro",
	Short: "nutro maintains the nutrition tracker's data stores",
	Long:  "nutro is the maintenance CLI for the nutrition tracker: it initializes the per-store SQLite files and runs integrity checks over the product catalog and daily aggregates.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func Execute() {
	// Optional .env next to the binary; absence is fine.
	godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Directory holding the store files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
