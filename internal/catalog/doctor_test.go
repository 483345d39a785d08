package catalog_test

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/catalog"
	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/model"
	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

func newDoctorFixture(t *testing.T) (*catalog.Store, *pool.Manager) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	mgr := pool.NewManager(t.TempDir(), pool.Config{InitialConns: -1}, log)
	t.Cleanup(mgr.CloseAll)
	if err := mgr.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return catalog.New(mgr, txn.Policy{Log: log, Sleep: func(time.Duration) {}}, log), mgr
}

func TestDoctorReportsAndFixes(t *testing.T) {
	t.Parallel()
	s, mgr := newDoctorFixture(t)
	ctx := context.Background()

	if err := s.Save(ctx, "chicken breast", model.Facts{Kcal: 165, Protein: 31, Fat: 3.6, Carbs: 0}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Implausible on purpose: calories far above what the macros carry.
	if err := s.Save(ctx, "mystery snack", model.Facts{Kcal: 800, Protein: 1, Fat: 1, Carbs: 1}); err != nil {
		t.Fatalf("save suspect: %v", err)
	}
	if err := s.Save(ctx, "doomed", model.Facts{Kcal: 100, Protein: 5, Fat: 2, Carbs: 10}); err != nil {
		t.Fatalf("save doomed: %v", err)
	}
	if err := s.AddAlias(ctx, "doomed", "doomed alias"); err != nil {
		t.Fatalf("add alias: %v", err)
	}
	if err := s.BindBarcode(ctx, "4600000000002", "doomed"); err != nil {
		t.Fatalf("bind barcode: %v", err)
	}

	// Orphan the alias and barcode by removing their product behind the
	// foreign keys' back.
	err := mgr.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		if _, err := h.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
			return err
		}
		if _, err := h.ExecContext(ctx, `DELETE FROM products WHERE name = 'doomed'`); err != nil {
			return err
		}
		_, err := h.ExecContext(ctx, `PRAGMA foreign_keys = ON`)
		return err
	})
	if err != nil {
		t.Fatalf("seed orphans: %v", err)
	}

	report, err := s.Doctor(ctx, false)
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	if report.Products != 2 {
		t.Fatalf("products = %d, want 2", report.Products)
	}
	if len(report.SuspectFacts["mystery snack"]) == 0 {
		t.Fatalf("expected suspect facts for mystery snack, got %v", report.SuspectFacts)
	}
	if report.OrphanAliases != 1 || report.OrphanBarcodes != 1 {
		t.Fatalf("orphans = (%d aliases, %d barcodes)", report.OrphanAliases, report.OrphanBarcodes)
	}
	if report.RemovedOrphans != 0 {
		t.Fatalf("dry run removed %d rows", report.RemovedOrphans)
	}

	report, err = s.Doctor(ctx, true)
	if err != nil {
		t.Fatalf("doctor --fix: %v", err)
	}
	if report.RemovedOrphans != 2 {
		t.Fatalf("expected 2 orphan rows removed, got %d", report.RemovedOrphans)
	}

	report, err = s.Doctor(ctx, false)
	if err != nil {
		t.Fatalf("doctor after fix: %v", err)
	}
	if report.OrphanAliases != 0 || report.OrphanBarcodes != 0 {
		t.Fatalf("orphans remain after fix: %+v", report)
	}
}

func TestDoctorFlagsDuplicateNames(t *testing.T) {
	t.Parallel()
	s, _ := newDoctorFixture(t)
	ctx := context.Background()

	facts := model.Facts{Kcal: 50, Protein: 1, Fat: 0.5, Carbs: 10}
	if err := s.Save(ctx, "Kefir", facts); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, "kefir", facts); err != nil {
		t.Fatalf("save: %v", err)
	}

	report, err := s.Doctor(ctx, false)
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	if len(report.DuplicateNames) != 1 || report.DuplicateNames[0] != "kefir" {
		t.Fatalf("duplicates = %v", report.DuplicateNames)
	}
}
