package pool

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/db"
)

// Manager owns one pool per logical store, created lazily. It is the
// explicit replacement for a process-global pool registry: construct
// one at startup, inject it into the stores, and CloseAll on shutdown.
type Manager struct {
	dir string
	cfg Config
	log *logrus.Logger

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewManager creates a registry of pools over SQLite files in dir.
func NewManager(dir string, cfg Config, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		dir:   dir,
		cfg:   cfg,
		log:   log,
		pools: make(map[string]*Pool),
	}
}

// Get returns the pool for a store, creating it on first use.
func (m *Manager) Get(store string) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[store]
	if !ok {
		p = New(store, filepath.Join(m.dir, store+".db"), m.cfg, m.log)
		m.pools[store] = p
	}
	return p
}

// With runs fn with a handle acquired from the store's pool, releasing
// it when fn returns.
func (m *Manager) With(ctx context.Context, store string, fn func(*sql.DB) error) error {
	p := m.Get(store)
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(h)
}

// Migrate brings every named store's schema up to date. With no
// arguments it migrates all known stores.
func (m *Manager) Migrate(ctx context.Context, stores ...string) error {
	if len(stores) == 0 {
		stores = db.Stores
	}
	for _, store := range stores {
		err := m.With(ctx, store, func(h *sql.DB) error {
			return db.ApplyMigrations(h, store)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CloseAll drains every pool. Used for shutdown and maintenance.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.CloseAll()
	}
}
