package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/ledger"
	"github.com/apkuzmin/nutro-bot/internal/model"
	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

// stubFacts serves per-100g facts from a fixed map.
type stubFacts map[string]model.Facts

func (f stubFacts) Lookup(_ context.Context, name string) (model.Facts, error) {
	facts, ok := f[name]
	if !ok {
		return model.Facts{}, fmt.Errorf("product %q not in fixture", name)
	}
	return facts, nil
}

// stubDays pins every user to one logical day.
type stubDays string

func (d stubDays) CurrentDay(context.Context, int64) (string, error) {
	return string(d), nil
}

var testFacts = stubFacts{
	"chicken breast": {Kcal: 165, Protein: 31, Fat: 3.6, Carbs: 0},
	"rice":           {Kcal: 130, Protein: 2.7, Fat: 0.3, Carbs: 28},
}

func newTestLedger(t *testing.T, day string, opts ...ledger.Option) (*ledger.Store, *pool.Manager) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	mgr := pool.NewManager(t.TempDir(), pool.Config{InitialConns: -1}, log)
	t.Cleanup(mgr.CloseAll)
	if err := mgr.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	run := txn.Policy{Log: log, Sleep: func(time.Duration) {}}
	return ledger.New(mgr, run, testFacts, stubDays(day), log, opts...), mgr
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func wantTotals(t *testing.T, got model.Totals, cal, p, f, c float64) {
	t.Helper()
	if !near(got.Calories, cal) || !near(got.Protein, p) || !near(got.Fat, f) || !near(got.Carbs, c) {
		t.Fatalf("totals = %+v, want (%g, %g, %g, %g)", got, cal, p, f, c)
	}
}

func TestAppendSnapshotsContribution(t *testing.T) {
	t.Parallel()
	s, _ := newTestLedger(t, "2026-03-10")
	ctx := context.Background()

	code, err := s.Append(ctx, 7, "chicken breast", 150)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(code) != 8 {
		t.Fatalf("expected 8-char edit code, got %q", code)
	}

	entries, err := s.ListForDay(ctx, 7, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.FoodName != "chicken breast" || e.Weight != 150 || e.Date != "2026-03-10" {
		t.Fatalf("unexpected entry %+v", e)
	}
	// 150 g of (165, 31, 3.6, 0) per 100 g.
	if !near(e.Kcal, 247.5) || !near(e.Protein, 46.5) || !near(e.Fat, 5.4) || !near(e.Carbs, 0) {
		t.Fatalf("snapshot = (%g, %g, %g, %g)", e.Kcal, e.Protein, e.Fat, e.Carbs)
	}

	got, err := s.Totals(ctx, 7, "2026-03-10")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	wantTotals(t, got, 247.5, 46.5, 5.4, 0)
}

func TestAppendRejectsNonPositiveWeight(t *testing.T) {
	t.Parallel()
	s, _ := newTestLedger(t, "2026-03-10")

	if _, err := s.Append(context.Background(), 7, "rice", 0); err == nil {
		t.Fatal("expected error for zero weight")
	}
	if _, err := s.Append(context.Background(), 7, "rice", -50); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestTotalsEqualSumAcrossMutations(t *testing.T) {
	t.Parallel()
	s, _ := newTestLedger(t, "2026-03-10")
	ctx := context.Background()

	if _, err := s.Append(ctx, 7, "chicken breast", 150); err != nil {
		t.Fatalf("append: %v", err)
	}
	riceCode, err := s.Append(ctx, 7, "rice", 200)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Totals(ctx, 7, "")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	wantTotals(t, got, 247.5+260, 46.5+5.4, 5.4+0.6, 56)

	rice, err := s.ByEditCode(ctx, riceCode)
	if err != nil {
		t.Fatalf("by edit code: %v", err)
	}
	userID, date, err := s.Edit(ctx, rice.ID, 100)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if userID != 7 || date != "2026-03-10" {
		t.Fatalf("edit returned user %d date %s", userID, date)
	}
	got, err = s.Totals(ctx, 7, "")
	if err != nil {
		t.Fatalf("totals after edit: %v", err)
	}
	wantTotals(t, got, 247.5+130, 46.5+2.7, 5.4+0.3, 28)

	if _, _, err := s.Delete(ctx, rice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.Totals(ctx, 7, "")
	if err != nil {
		t.Fatalf("totals after delete: %v", err)
	}
	wantTotals(t, got, 247.5, 46.5, 5.4, 0)
}

func TestTotalsForEmptyDayAreZero(t *testing.T) {
	t.Parallel()
	s, _ := newTestLedger(t, "2026-03-10")

	got, err := s.Totals(context.Background(), 42, "2026-01-01")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	wantTotals(t, got, 0, 0, 0, 0)
}

func TestEntryNotFound(t *testing.T) {
	t.Parallel()
	s, _ := newTestLedger(t, "2026-03-10")
	ctx := context.Background()

	if _, _, err := s.Edit(ctx, 9999, 100); !errors.Is(err, ledger.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound from edit, got %v", err)
	}
	if _, _, err := s.Delete(ctx, 9999); !errors.Is(err, ledger.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound from delete, got %v", err)
	}
	if _, err := s.ByEditCode(ctx, "NOPE1234"); !errors.Is(err, ledger.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound from lookup, got %v", err)
	}
}

func TestEditCodeCollisionRegenerates(t *testing.T) {
	t.Parallel()
	codes := []string{"AAAA1111", "AAAA1111", "BBBB2222"}
	gen := func() string {
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code
	}
	s, _ := newTestLedger(t, "2026-03-10", ledger.WithCodeGenerator(gen))
	ctx := context.Background()

	first, err := s.Append(ctx, 7, "rice", 100)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first != "AAAA1111" {
		t.Fatalf("first code = %q", first)
	}

	second, err := s.Append(ctx, 7, "rice", 100)
	if err != nil {
		t.Fatalf("append with colliding code: %v", err)
	}
	if second != "BBBB2222" {
		t.Fatalf("expected regenerated code, got %q", second)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := newTestLedger(t, "2026-03-10")
	ctx := context.Background()

	if _, err := s.Append(ctx, 7, "rice", 200); err != nil {
		t.Fatalf("append: %v", err)
	}
	before, err := s.Totals(ctx, 7, "")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if err := s.Recompute(ctx, 7, "2026-03-10"); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	after, err := s.Totals(ctx, 7, "")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if before != after {
		t.Fatalf("recompute changed totals: %+v -> %+v", before, after)
	}
}

func TestPurgeUserRemovesEntriesAndAggregates(t *testing.T) {
	t.Parallel()
	s, _ := newTestLedger(t, "2026-03-10")
	ctx := context.Background()

	if _, err := s.Append(ctx, 7, "rice", 200); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, 8, "rice", 100); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.PurgeUser(ctx, 7); err != nil {
		t.Fatalf("purge: %v", err)
	}

	entries, err := s.ListForDay(ctx, 7, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries after purge, got %d", len(entries))
	}
	got, err := s.Totals(ctx, 7, "")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	wantTotals(t, got, 0, 0, 0, 0)

	// The other user is untouched.
	got, err = s.Totals(ctx, 8, "")
	if err != nil {
		t.Fatalf("totals for other user: %v", err)
	}
	wantTotals(t, got, 130, 2.7, 0.3, 28)
}

func TestRepairFixesDriftAndOrphans(t *testing.T) {
	t.Parallel()
	s, mgr := newTestLedger(t, "2026-03-10")
	ctx := context.Background()

	if _, err := s.Append(ctx, 7, "chicken breast", 150); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Corrupt the aggregate and plant an orphan row.
	err := mgr.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		if _, err := h.ExecContext(ctx, `
UPDATE daily_intake SET calories = 9000 WHERE user_id = 7 AND date = '2026-03-10'`); err != nil {
			return err
		}
		_, err := h.ExecContext(ctx, `
INSERT INTO daily_intake (user_id, date, calories, protein, fat, carbs)
VALUES (99, '2020-01-01', 500, 1, 2, 3)`)
		return err
	})
	if err != nil {
		t.Fatalf("seed drift: %v", err)
	}

	recomputed, removed, err := s.Repair(ctx)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if recomputed != 1 || removed != 1 {
		t.Fatalf("repair = (%d recomputed, %d removed)", recomputed, removed)
	}

	got, err := s.Totals(ctx, 7, "")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	wantTotals(t, got, 247.5, 46.5, 5.4, 0)

	got, err = s.Totals(ctx, 99, "2020-01-01")
	if err != nil {
		t.Fatalf("orphan totals: %v", err)
	}
	wantTotals(t, got, 0, 0, 0, 0)
}
