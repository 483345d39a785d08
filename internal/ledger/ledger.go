// Package ledger is the append/edit/delete food log. Every mutation
// recomputes the owning user's daily aggregate inside the same
// transaction, so the denormalized totals are never observably out of
// sync with the log.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/model"
	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

var ErrEntryNotFound = errors.New("food log entry not found")

// FactsSource resolves per-100g nutrition facts for a product name.
type FactsSource interface {
	Lookup(ctx context.Context, name string) (model.Facts, error)
}

// DayResolver maps a user onto their current logical day.
type DayResolver interface {
	CurrentDay(ctx context.Context, userID int64) (string, error)
}

type Store struct {
	pools   *pool.Manager
	run     txn.Policy
	facts   FactsSource
	days    DayResolver
	log     *logrus.Entry
	now     func() time.Time
	newCode func() string
}

type Option func(*Store)

// WithClock fixes the store's notion of "now" for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCodeGenerator overrides edit-code generation for tests.
func WithCodeGenerator(gen func() string) Option {
	return func(s *Store) { s.newCode = gen }
}

func New(pools *pool.Manager, run txn.Policy, facts FactsSource, days DayResolver, log *logrus.Logger, opts ...Option) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		pools:   pools,
		run:     run,
		facts:   facts,
		days:    days,
		log:     log.WithField("component", "ledger"),
		now:     time.Now,
		newCode: newEditCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newEditCode returns a short user-shareable token. Uniqueness is
// enforced by the edit_code constraint; collisions regenerate.
func newEditCode() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

// Append logs weightGrams of the named product for the user's current
// logical day, snapshotting the scaled facts into the entry, and
// recomputes the day's aggregate in the same transaction. Returns the
// entry's edit code.
func (s *Store) Append(ctx context.Context, userID int64, foodName string, weightGrams float64) (string, error) {
	if weightGrams <= 0 {
		return "", fmt.Errorf("weight must be > 0, got %g", weightGrams)
	}
	facts, err := s.facts.Lookup(ctx, foodName)
	if err != nil {
		return "", err
	}
	date, err := s.days.CurrentDay(ctx, userID)
	if err != nil {
		return "", err
	}
	contrib := facts.Contribution(weightGrams)
	timeOfDay := s.now().Format("15:04:05")

	var code string
	err = s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			for attempt := 0; ; attempt++ {
				code = s.newCode()
				_, err := tx.ExecContext(ctx, `
INSERT INTO food_log (user_id, food_name, weight, kcal, protein, fat, carbs, date, time, edit_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					userID, foodName, weightGrams,
					contrib.Calories, contrib.Protein, contrib.Fat, contrib.Carbs,
					date, timeOfDay, code)
				if err == nil {
					break
				}
				if isUniqueViolation(err) && attempt < 4 {
					continue
				}
				return fmt.Errorf("insert food log entry: %w", err)
			}
			return s.recomputeTx(ctx, tx, userID, date)
		})
	})
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"user":    userID,
		"product": foodName,
		"weight":  weightGrams,
		"date":    date,
	}).Debug("logged food")
	return code, nil
}

// ListForDay returns the user's entries for a date in time order. An
// empty date means the current logical day.
func (s *Store) ListForDay(ctx context.Context, userID int64, date string) ([]model.Entry, error) {
	if date == "" {
		var err error
		date, err = s.days.CurrentDay(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	var entries []model.Entry
	err := s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		rows, err := h.QueryContext(ctx, `
SELECT id, food_name, weight, kcal, protein, fat, carbs, time, edit_code
FROM food_log
WHERE user_id = ? AND date = ?
ORDER BY time ASC`, userID, date)
		if err != nil {
			return fmt.Errorf("list food log for user %d on %s: %w", userID, date, err)
		}
		defer rows.Close()
		for rows.Next() {
			e := model.Entry{UserID: userID, Date: date}
			if err := rows.Scan(&e.ID, &e.FoodName, &e.Weight, &e.Kcal, &e.Protein, &e.Fat, &e.Carbs, &e.Time, &e.EditCode); err != nil {
				return fmt.Errorf("scan food log entry: %w", err)
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Edit replaces an entry's weight, rescaling its snapshot from the
// catalog facts current now, and recomputes the day's aggregate.
// Returns the owning user and date.
func (s *Store) Edit(ctx context.Context, entryID int64, weightGrams float64) (int64, string, error) {
	if weightGrams <= 0 {
		return 0, "", fmt.Errorf("weight must be > 0, got %g", weightGrams)
	}
	var (
		userID int64
		date   string
	)
	err := s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			var foodName string
			err := tx.QueryRowContext(ctx, `
SELECT user_id, food_name, date FROM food_log WHERE id = ?`, entryID).
				Scan(&userID, &foodName, &date)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("entry %d: %w", entryID, ErrEntryNotFound)
			}
			if err != nil {
				return fmt.Errorf("load entry %d: %w", entryID, err)
			}

			facts, err := s.facts.Lookup(ctx, foodName)
			if err != nil {
				return err
			}
			contrib := facts.Contribution(weightGrams)
			if _, err := tx.ExecContext(ctx, `
UPDATE food_log
SET weight = ?, kcal = ?, protein = ?, fat = ?, carbs = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`,
				weightGrams, contrib.Calories, contrib.Protein, contrib.Fat, contrib.Carbs, entryID); err != nil {
				return fmt.Errorf("update entry %d: %w", entryID, err)
			}
			return s.recomputeTx(ctx, tx, userID, date)
		})
	})
	if err != nil {
		return 0, "", err
	}
	s.log.WithFields(logrus.Fields{"entry": entryID, "weight": weightGrams}).Debug("edited entry")
	return userID, date, nil
}

// Delete removes an entry and recomputes the day's aggregate. Returns
// the owning user and date.
func (s *Store) Delete(ctx context.Context, entryID int64) (int64, string, error) {
	var (
		userID int64
		date   string
	)
	err := s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			err := tx.QueryRowContext(ctx, `
SELECT user_id, date FROM food_log WHERE id = ?`, entryID).Scan(&userID, &date)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("entry %d: %w", entryID, ErrEntryNotFound)
			}
			if err != nil {
				return fmt.Errorf("load entry %d: %w", entryID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM food_log WHERE id = ?`, entryID); err != nil {
				return fmt.Errorf("delete entry %d: %w", entryID, err)
			}
			return s.recomputeTx(ctx, tx, userID, date)
		})
	})
	if err != nil {
		return 0, "", err
	}
	s.log.WithField("entry", entryID).Debug("deleted entry")
	return userID, date, nil
}

// ByEditCode returns the entry identified by a user-facing edit code.
func (s *Store) ByEditCode(ctx context.Context, code string) (*model.Entry, error) {
	var e model.Entry
	err := s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		err := h.QueryRowContext(ctx, `
SELECT id, user_id, food_name, weight, kcal, protein, fat, carbs, date, time, edit_code
FROM food_log
WHERE edit_code = ?`, code).
			Scan(&e.ID, &e.UserID, &e.FoodName, &e.Weight, &e.Kcal, &e.Protein, &e.Fat, &e.Carbs, &e.Date, &e.Time, &e.EditCode)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("edit code %q: %w", code, ErrEntryNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup edit code %q: %w", code, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PurgeUser removes every entry and aggregate for a user. Part of the
// data-erasure cascade.
func (s *Store) PurgeUser(ctx context.Context, userID int64) error {
	err := s.pools.With(ctx, db.StoreFoodLog, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM food_log WHERE user_id = ?`, userID); err != nil {
				return fmt.Errorf("purge food log for user %d: %w", userID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM daily_intake WHERE user_id = ?`, userID); err != nil {
				return fmt.Errorf("purge daily intake for user %d: %w", userID, err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.log.WithField("user", userID).Debug("purged user data")
	return nil
}

// isUniqueViolation matches only the UNIQUE extended constraint code,
// not SQLITE_CONSTRAINT as a whole: a CHECK or NOT NULL failure must
// surface instead of being retried as an edit-code collision.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
