package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apkuzmin/nutro-bot/internal/pool"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and migrate every store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(mgr *pool.Manager) error {
			dir, err := resolveDataDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stores ready in %s\n", dir)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
