// Package txn executes units of work as single atomic transactions,
// replaying them with exponential backoff when SQLite reports lock
// contention.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrContention is returned when the retry budget is exhausted on a
// locked or busy store.
var ErrContention = errors.New("store contention")

// Policy is the retry strategy applied by Run. The zero value retries
// three times with a 0.5s/1s/2s backoff ladder.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Retryable reports whether a failed attempt hit transient lock
	// contention. Defaults to IsBusy.
	Retryable func(error) bool
	// Sleep is replaced in tests to avoid real backoff waits.
	Sleep func(time.Duration)

	Log *logrus.Logger
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.Retryable == nil {
		p.Retryable = IsBusy
	}
	if p.Sleep == nil {
		p.Sleep = time.Sleep
	}
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}
	return p
}

// Run begins a transaction on h, invokes work, and commits. Any error
// from work rolls the transaction back. Attempts that fail on lock
// contention are replayed from scratch, so work must keep its side
// effects inside the transaction.
func (p Policy) Run(ctx context.Context, h *sql.DB, work func(*sql.Tx) error) error {
	p = p.withDefaults()
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := p.attempt(ctx, h, work)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return err
		}
		last = err
		if attempt < p.MaxAttempts {
			delay := p.BaseDelay << (attempt - 1)
			p.Log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("store busy, retrying transaction")
			p.Sleep(delay)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrContention, p.MaxAttempts, last)
}

func (p Policy) attempt(ctx context.Context, h *sql.DB, work func(*sql.Tx) error) error {
	tx, err := h.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := work(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			p.Log.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
