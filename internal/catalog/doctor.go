package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/model"
)

// DoctorReport summarizes catalog integrity findings.
type DoctorReport struct {
	Products        int
	SuspectFacts    map[string][]string
	DuplicateNames  []string
	OrphanAliases   int
	OrphanBarcodes  int
	RemovedOrphans  int
}

// Doctor scans the catalog for implausible facts, case-insensitive
// duplicate names, and alias/barcode rows whose product is gone. With
// fix set, orphan rows are deleted; suspect facts are only reported.
func (s *Store) Doctor(ctx context.Context, fix bool) (*DoctorReport, error) {
	report := &DoctorReport{SuspectFacts: make(map[string][]string)}
	err := s.pools.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		rows, err := h.QueryContext(ctx, `SELECT name, kcal, protein, fat, carbs FROM products ORDER BY name`)
		if err != nil {
			return fmt.Errorf("scan products: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				name  string
				facts model.Facts
			)
			if err := rows.Scan(&name, &facts.Kcal, &facts.Protein, &facts.Fat, &facts.Carbs); err != nil {
				return fmt.Errorf("scan product row: %w", err)
			}
			report.Products++
			if issues := CheckFacts(facts); len(issues) > 0 {
				report.SuspectFacts[name] = issues
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("scan products: %w", err)
		}

		dupRows, err := h.QueryContext(ctx, `
SELECT LOWER(name) FROM products GROUP BY LOWER(name) HAVING COUNT(*) > 1`)
		if err != nil {
			return fmt.Errorf("scan duplicate names: %w", err)
		}
		defer dupRows.Close()
		for dupRows.Next() {
			var name string
			if err := dupRows.Scan(&name); err != nil {
				return fmt.Errorf("scan duplicate name: %w", err)
			}
			report.DuplicateNames = append(report.DuplicateNames, name)
		}
		if err := dupRows.Err(); err != nil {
			return fmt.Errorf("scan duplicate names: %w", err)
		}

		if err := h.QueryRowContext(ctx, `
SELECT COUNT(*) FROM product_aliases a
LEFT JOIN products p ON a.product_id = p.id
WHERE p.id IS NULL`).Scan(&report.OrphanAliases); err != nil {
			return fmt.Errorf("count orphan aliases: %w", err)
		}
		if err := h.QueryRowContext(ctx, `
SELECT COUNT(*) FROM barcodes b
LEFT JOIN products p ON b.product_id = p.id
WHERE p.id IS NULL`).Scan(&report.OrphanBarcodes); err != nil {
			return fmt.Errorf("count orphan barcodes: %w", err)
		}

		if !fix || report.OrphanAliases+report.OrphanBarcodes == 0 {
			return nil
		}
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
DELETE FROM product_aliases WHERE product_id NOT IN (SELECT id FROM products)`)
			if err != nil {
				return fmt.Errorf("delete orphan aliases: %w", err)
			}
			n, _ := res.RowsAffected()
			report.RemovedOrphans += int(n)
			res, err = tx.ExecContext(ctx, `
DELETE FROM barcodes WHERE product_id NOT IN (SELECT id FROM products)`)
			if err != nil {
				return fmt.Errorf("delete orphan barcodes: %w", err)
			}
			n, _ = res.RowsAffected()
			report.RemovedOrphans += int(n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if fix && report.RemovedOrphans > 0 {
		s.cache.Purge()
	}
	return report, nil
}
