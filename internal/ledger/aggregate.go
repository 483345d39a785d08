package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/model"
)

// recomputeTx re-sums the day's entries and upserts the aggregate row.
// Summing from source instead of applying deltas keeps the invariant
// re-derivable by repair tooling and immune to missed updates.
func (s *Store) recomputeTx(ctx context.Context, tx *sql.Tx, userID int64, date string) error {
	var t model.Totals
	err := tx.QueryRowContext(ctx, `
SELECT COALESCE(SUM(kcal), 0), COALESCE(SUM(protein), 0),
       COALESCE(SUM(fat), 0), COALESCE(SUM(carbs), 0)
FROM food_log
WHERE user_id = ? AND date = ?`, userID, date).
		Scan(&t.Calories, &t.Protein, &t.Fat, &t.Carbs)
	if err != nil {
		return fmt.Errorf("sum day %s for user %d: %w", date, userID, err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO daily_intake (user_id, date, calories, protein, fat, carbs)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, date) DO UPDATE SET
  calories=excluded.calories,
  protein=excluded.protein,
  fat=excluded.fat,
  carbs=excluded.carbs`,
		userID, date, t.Calories, t.Protein, t.Fat, t.Carbs)
	if err != nil {
		return fmt.Errorf("upsert daily intake for user %d on %s: %w", userID, date, err)
	}
	return nil
}

// Recompute rebuilds the aggregate for one (user, date) bucket. Public
// for repair tooling; normal mutations recompute on their own.
func (s *Store) Recompute(ctx context.Context, userID int64, date string) error {
	return s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			return s.recomputeTx(ctx, tx, userID, date)
		})
	})
}

// Totals reads the aggregate for a date, defaulting to the user's
// current logical day. Days with no entries yield zeroed totals.
func (s *Store) Totals(ctx context.Context, userID int64, date string) (model.Totals, error) {
	if date == "" {
		var err error
		date, err = s.days.CurrentDay(ctx, userID)
		if err != nil {
			return model.Totals{}, err
		}
	}
	var t model.Totals
	err := s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		err := h.QueryRowContext(ctx, `
SELECT calories, protein, fat, carbs FROM daily_intake
WHERE user_id = ? AND date = ?`, userID, date).
			Scan(&t.Calories, &t.Protein, &t.Fat, &t.Carbs)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read daily intake for user %d on %s: %w", userID, date, err)
		}
		return nil
	})
	if err != nil {
		return model.Totals{}, err
	}
	return t, nil
}

// Repair recomputes every (user, date) bucket that has entries and
// drops aggregate rows whose entries are all gone. Returns the number
// of buckets recomputed and orphan rows removed.
func (s *Store) Repair(ctx context.Context) (recomputed, removed int, err error) {
	err = s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		type bucket struct {
			userID int64
			date   string
		}
		var buckets []bucket
		rows, err := h.QueryContext(ctx, `SELECT DISTINCT user_id, date FROM food_log`)
		if err != nil {
			return fmt.Errorf("scan aggregate buckets: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var b bucket
			if err := rows.Scan(&b.userID, &b.date); err != nil {
				return fmt.Errorf("scan aggregate bucket: %w", err)
			}
			buckets = append(buckets, b)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("scan aggregate buckets: %w", err)
		}

		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			for _, b := range buckets {
				if err := s.recomputeTx(ctx, tx, b.userID, b.date); err != nil {
					return err
				}
			}
			recomputed = len(buckets)
			res, err := tx.ExecContext(ctx, `
DELETE FROM daily_intake
WHERE NOT EXISTS (
  SELECT 1 FROM food_log
  WHERE food_log.user_id = daily_intake.user_id AND food_log.date = daily_intake.date
)`)
			if err != nil {
				return fmt.Errorf("remove orphan aggregates: %w", err)
			}
			n, _ := res.RowsAffected()
			removed = int(n)
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}
	return recomputed, removed, nil
}
