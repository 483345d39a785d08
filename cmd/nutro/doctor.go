package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apkuzmin/nutro-bot/internal/catalog"
	"github.com/apkuzmin/nutro-bot/internal/ledger"
	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/profile"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run data integrity checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withManager(ctx, func(mgr *pool.Manager) error {
			log := logrus.StandardLogger()
			run := txn.Policy{Log: log}
			cat := catalog.New(mgr, run, log)
			profiles := profile.New(mgr, run, log)
			led := ledger.New(mgr, run, cat, profiles, log)

			report, err := cat.Doctor(ctx, doctorFix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Products: %d\n", report.Products)
			fmt.Fprintf(out, "Suspect nutrition facts: %d\n", len(report.SuspectFacts))
			for name, issues := range report.SuspectFacts {
				for _, issue := range issues {
					fmt.Fprintf(out, "  %s: %s\n", name, issue)
				}
			}
			fmt.Fprintf(out, "Duplicate names (case-insensitive): %d\n", len(report.DuplicateNames))
			fmt.Fprintf(out, "Orphan aliases: %d\n", report.OrphanAliases)
			fmt.Fprintf(out, "Orphan barcodes: %d\n", report.OrphanBarcodes)
			if doctorFix {
				fmt.Fprintf(out, "Removed orphan rows: %d\n", report.RemovedOrphans)
			}

			recomputed, removed, err := led.Repair(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Aggregate buckets recomputed: %d\n", recomputed)
			fmt.Fprintf(out, "Orphan aggregate rows removed: %d\n", removed)

			if !doctorFix && (len(report.SuspectFacts) > 0 || report.OrphanAliases > 0 || report.OrphanBarcodes > 0) {
				return fmt.Errorf("doctor found integrity issues")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Remove orphan alias and barcode rows")
}
