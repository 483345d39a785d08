package pool_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/pool"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestPool(t *testing.T, cfg pool.Config) *pool.Pool {
	t.Helper()
	p := pool.New("users", filepath.Join(t.TempDir(), "users.db"), cfg, quietLogger())
	t.Cleanup(p.CloseAll)
	return p
}

func TestPoolWarmsInitialConnections(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, pool.Config{})
	if got := p.Active(); got != 2 {
		t.Fatalf("expected 2 warm connections, got %d", got)
	}
}

func TestPoolReusesIdleConnection(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, pool.Config{MaxConns: 4, InitialConns: -1})
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := p.Active(); got != 1 {
		t.Fatalf("expected 1 active connection, got %d", got)
	}
	p.Release(h)

	again, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	defer p.Release(again)
	if got := p.Active(); got != 1 {
		t.Fatalf("expected idle connection to be reused, active = %d", got)
	}
}

func TestPoolBoundAndExhaustion(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, pool.Config{
		MaxConns:       2,
		InitialConns:   -1,
		AcquireTimeout: 150 * time.Millisecond,
	})
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire first: %v", err)
	}
	second, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire second: %v", err)
	}

	if _, err := p.Acquire(ctx); !errors.Is(err, pool.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	p.Release(second)
	third, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	p.Release(third)
	p.Release(first)
}

func TestPoolBlockedAcquireUnblocksOnRelease(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, pool.Config{
		MaxConns:       1,
		InitialConns:   -1,
		AcquireTimeout: 2 * time.Second,
	})
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		h, err := p.Acquire(ctx)
		if err == nil {
			p.Release(h)
		}
		got <- err
	}()

	time.Sleep(50 * time.Millisecond)
	p.Release(held)

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("blocked acquire failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked acquire never completed")
	}
}

func TestPoolDiscardsUnhealthyOnRelease(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, pool.Config{MaxConns: 4, InitialConns: -1})
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Kill the handle behind the pool's back; the release probe must
	// notice and drop it from the accounting.
	h.Close()
	p.Release(h)

	if got := p.Active(); got != 0 {
		t.Fatalf("expected dead connection to be discarded, active = %d", got)
	}

	h, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after discard: %v", err)
	}
	p.Release(h)
	if got := p.Active(); got != 1 {
		t.Fatalf("expected a fresh connection, active = %d", got)
	}
}

func TestPoolCloseAllResetsActiveCount(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, pool.Config{MaxConns: 3, InitialConns: 2})
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(h)

	p.CloseAll()
	if got := p.Active(); got != 0 {
		t.Fatalf("expected active count 0 after CloseAll, got %d", got)
	}

	h, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after CloseAll: %v", err)
	}
	p.Release(h)
}

func TestPoolReleaseAfterCloseAllIsDropped(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, pool.Config{MaxConns: 2, InitialConns: -1})
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.CloseAll()

	// The handle outlived shutdown; releasing it must not re-idle it
	// or disturb the zeroed accounting.
	p.Release(h)
	if got := p.Active(); got != 0 {
		t.Fatalf("expected active count 0 after post-shutdown release, got %d", got)
	}

	h, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after reopen: %v", err)
	}
	p.Release(h)
	if got := p.Active(); got != 1 {
		t.Fatalf("expected reopened pool to hold 1 connection, got %d", got)
	}
}

func TestManagerWithMigratesAndReleases(t *testing.T) {
	t.Parallel()
	mgr := pool.NewManager(t.TempDir(), pool.Config{InitialConns: -1}, quietLogger())
	t.Cleanup(mgr.CloseAll)
	ctx := context.Background()

	if err := mgr.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	err := mgr.With(ctx, db.StoreUsers, func(h *sql.DB) error {
		var count int
		return h.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	})
	if err != nil {
		t.Fatalf("with users store: %v", err)
	}

	if got := mgr.Get(db.StoreUsers).Active(); got != 1 {
		t.Fatalf("expected connection returned to pool, active = %d", got)
	}
}

func TestManagerGetReturnsSamePool(t *testing.T) {
	t.Parallel()
	mgr := pool.NewManager(t.TempDir(), pool.Config{InitialConns: -1}, quietLogger())
	t.Cleanup(mgr.CloseAll)

	if mgr.Get(db.StoreProducts) != mgr.Get(db.StoreProducts) {
		t.Fatal("expected the same pool for repeated Get calls")
	}
}
