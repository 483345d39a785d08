package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/provider/openfoodfacts"
	"github.com/apkuzmin/nutro-bot/internal/tracker"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <barcode>",
	Short: "Resolve a barcode, seeding the catalog from Open Food Facts on a miss",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withManager(ctx, func(mgr *pool.Manager) error {
			log := logrus.StandardLogger()
			tr := tracker.New(mgr, txn.Policy{Log: log}, log,
				tracker.WithBarcodeLookup(&openfoodfacts.Client{}))

			name, facts, err := tr.ResolveBarcode(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.0f kcal, %.1fg protein, %.1fg fat, %.1fg carbs per 100g\n",
				name, facts.Kcal, facts.Protein, facts.Fat, facts.Carbs)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
