// Package profile persists user profiles, daily targets, and the
// settings that shape a user's logical day.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/logicalday"
	"github.com/apkuzmin/nutro-bot/internal/model"
	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidTime  = errors.New("invalid day-end time")
)

type Store struct {
	pools *pool.Manager
	run   txn.Policy
	log   *logrus.Entry
	now   func() time.Time
}

type Option func(*Store)

// WithClock fixes the store's notion of "now" for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(pools *pool.Manager, run txn.Policy, log *logrus.Logger, opts ...Option) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		pools: pools,
		run:   run,
		log:   log.WithField("component", "profile"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the user's full profile, or ErrUserNotFound.
func (s *Store) Get(ctx context.Context, userID int64) (*model.Profile, error) {
	var p model.Profile
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		var (
			gender, activity, goal, language sql.NullString
			age                              sql.NullInt64
			weight, height                   sql.NullFloat64
			calories, protein, fat, carbs    sql.NullFloat64
			dayEnd                           sql.NullString
			timezone                         sql.NullInt64
		)
		err := h.QueryRowContext(ctx, `
SELECT gender, age, weight, height, activity, goal,
       daily_calories, protein, fat, carbs, language, day_end_time, timezone
FROM users WHERE user_id = ?`, userID).Scan(
			&gender, &age, &weight, &height, &activity, &goal,
			&calories, &protein, &fat, &carbs, &language, &dayEnd, &timezone,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
		}
		if err != nil {
			return fmt.Errorf("load profile for user %d: %w", userID, err)
		}
		p = model.Profile{
			UserID:   userID,
			Gender:   gender.String,
			Age:      int(age.Int64),
			WeightKg: weight.Float64,
			HeightCm: height.Float64,
			Activity: activity.String,
			Goal:     goal.String,
			Targets: model.Targets{
				Calories: calories.Float64,
				Protein:  protein.Float64,
				Fat:      fat.Float64,
				Carbs:    carbs.Float64,
			},
			Language:   language.String,
			DayEndTime: dayEnd.String,
			Timezone:   logicalday.DefaultTimezone,
		}
		if timezone.Valid {
			p.Timezone = int(timezone.Int64)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Save upserts the full profile. An existing day-end time is kept so a
// profile save does not wipe a previously configured day boundary.
func (s *Store) Save(ctx context.Context, p model.Profile) error {
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO users (user_id, gender, age, weight, height, activity, goal,
                   daily_calories, protein, fat, carbs, language, timezone)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  gender=excluded.gender,
  age=excluded.age,
  weight=excluded.weight,
  height=excluded.height,
  activity=excluded.activity,
  goal=excluded.goal,
  daily_calories=excluded.daily_calories,
  protein=excluded.protein,
  fat=excluded.fat,
  carbs=excluded.carbs,
  language=excluded.language,
  timezone=excluded.timezone,
  updated_at=CURRENT_TIMESTAMP`,
				p.UserID, p.Gender, p.Age, p.WeightKg, p.HeightCm, p.Activity, p.Goal,
				p.Targets.Calories, p.Targets.Protein, p.Targets.Fat, p.Targets.Carbs,
				p.Language, p.Timezone)
			if err != nil {
				return fmt.Errorf("save profile for user %d: %w", p.UserID, err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"user":     p.UserID,
		"calories": p.Targets.Calories,
		"timezone": p.Timezone,
	}).Debug("saved profile")
	return nil
}

// SaveTargets upserts only the daily targets, creating the user row if
// needed.
func (s *Store) SaveTargets(ctx context.Context, userID int64, t model.Targets) error {
	return s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO users (user_id, daily_calories, protein, fat, carbs)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  daily_calories=excluded.daily_calories,
  protein=excluded.protein,
  fat=excluded.fat,
  carbs=excluded.carbs,
  updated_at=CURRENT_TIMESTAMP`,
				userID, t.Calories, t.Protein, t.Fat, t.Carbs)
			if err != nil {
				return fmt.Errorf("save targets for user %d: %w", userID, err)
			}
			return nil
		})
	})
}

// Targets returns the user's daily targets, or ErrUserNotFound.
func (s *Store) Targets(ctx context.Context, userID int64) (model.Targets, error) {
	var t model.Targets
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		var calories, protein, fat, carbs sql.NullFloat64
		err := h.QueryRowContext(ctx, `
SELECT daily_calories, protein, fat, carbs FROM users WHERE user_id = ?`, userID).
			Scan(&calories, &protein, &fat, &carbs)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
		}
		if err != nil {
			return fmt.Errorf("load targets for user %d: %w", userID, err)
		}
		t = model.Targets{
			Calories: calories.Float64,
			Protein:  protein.Float64,
			Fat:      fat.Float64,
			Carbs:    carbs.Float64,
		}
		return nil
	})
	return t, err
}

// DayEndTime returns the user's day-end boundary, defaulting to
// midnight for unknown users.
func (s *Store) DayEndTime(ctx context.Context, userID int64) (string, error) {
	dayEnd := logicalday.DefaultDayEnd
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		var v sql.NullString
		err := h.QueryRowContext(ctx, `SELECT day_end_time FROM users WHERE user_id = ?`, userID).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load day-end time for user %d: %w", userID, err)
		}
		if v.Valid && v.String != "" {
			dayEnd = v.String
		}
		return nil
	})
	return dayEnd, err
}

// SetDayEndTime stores the "HH:MM" boundary, creating a day-end-only
// user row when no profile exists yet.
func (s *Store) SetDayEndTime(ctx context.Context, userID int64, dayEnd string) error {
	if _, _, err := logicalday.ParseDayEnd(dayEnd); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTime, dayEnd)
	}
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO users (user_id, day_end_time)
VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  day_end_time=excluded.day_end_time,
  updated_at=CURRENT_TIMESTAMP`, userID, dayEnd)
			if err != nil {
				return fmt.Errorf("set day-end time for user %d: %w", userID, err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "day_end": dayEnd}).Debug("set day-end time")
	return nil
}

// Timezone returns the user's UTC offset in hours, defaulting to
// UTC+3 for unknown users.
func (s *Store) Timezone(ctx context.Context, userID int64) (int, error) {
	tz := logicalday.DefaultTimezone
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		var v sql.NullInt64
		err := h.QueryRowContext(ctx, `SELECT timezone FROM users WHERE user_id = ?`, userID).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load timezone for user %d: %w", userID, err)
		}
		if v.Valid {
			tz = int(v.Int64)
		}
		return nil
	})
	return tz, err
}

// SetTimezone stores the UTC offset in hours, creating the user row if
// needed. Offsets are stored as given; the valid domain is bounded by
// the callers.
func (s *Store) SetTimezone(ctx context.Context, userID int64, tzOffsetHours int) error {
	return s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO users (user_id, timezone)
VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  timezone=excluded.timezone,
  updated_at=CURRENT_TIMESTAMP`, userID, tzOffsetHours)
			if err != nil {
				return fmt.Errorf("set timezone for user %d: %w", userID, err)
			}
			return nil
		})
	})
}

// CurrentDay resolves the user's current logical day from their stored
// timezone and day-end settings. Time-dependent, so never cached.
func (s *Store) CurrentDay(ctx context.Context, userID int64) (string, error) {
	dayEnd := logicalday.DefaultDayEnd
	tz := logicalday.DefaultTimezone
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		var (
			de sql.NullString
			v  sql.NullInt64
		)
		err := h.QueryRowContext(ctx, `SELECT day_end_time, timezone FROM users WHERE user_id = ?`, userID).Scan(&de, &v)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load day settings for user %d: %w", userID, err)
		}
		if de.Valid && de.String != "" {
			dayEnd = de.String
		}
		if v.Valid {
			tz = int(v.Int64)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return logicalday.Resolve(s.now(), tz, dayEnd), nil
}

// Delete removes the user's profile row. Ledger data lives in its own
// store; the full erasure cascade is coordinated by the tracker.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	err := s.pools.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID); err != nil {
				return fmt.Errorf("delete user %d: %w", userID, err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.log.WithField("user", userID).Debug("deleted profile")
	return nil
}
