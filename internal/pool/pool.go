// Package pool hands out pooled single-connection SQLite handles, one
// pool per logical store. Pools are bounded, grow lazily, and probe
// handles for liveness on both acquire and release.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/db"
)

// ErrPoolExhausted is returned when no connection becomes available
// within the acquire timeout.
var ErrPoolExhausted = errors.New("connection pool exhausted")

type Config struct {
	// MaxConns bounds idle plus checked-out connections. Default 10.
	MaxConns int
	// InitialConns are opened eagerly when the pool is created.
	// Default 2; warm-up failures are logged, not fatal.
	InitialConns int
	// AcquireTimeout bounds the wait for a free connection. Default 5s.
	AcquireTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.InitialConns == 0 {
		c.InitialConns = 2
	}
	if c.InitialConns < 0 {
		c.InitialConns = 0
	}
	if c.InitialConns > c.MaxConns {
		c.InitialConns = c.MaxConns
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	return c
}

type Pool struct {
	store string
	path  string
	cfg   Config
	log   *logrus.Entry

	mu     sync.Mutex
	idle   chan *sql.DB
	active int
	closed bool
}

// New creates a pool for one store backed by the SQLite file at path.
func New(store, path string, cfg Config, log *logrus.Logger) *Pool {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Pool{
		store: store,
		path:  path,
		cfg:   cfg,
		log:   log.WithField("store", store),
		idle:  make(chan *sql.DB, cfg.MaxConns),
	}
	for i := 0; i < cfg.InitialConns; i++ {
		h, err := db.Open(p.path)
		if err != nil {
			p.log.WithError(err).Warn("could not warm pool connection")
			break
		}
		p.active++
		p.idle <- h
	}
	return p
}

// Acquire returns a ready-to-use handle, reusing an idle one when it
// still responds, opening a new one while under the bound, and
// otherwise waiting for a release until the acquire timeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()

	deadline := time.NewTimer(p.cfg.AcquireTimeout)
	defer deadline.Stop()

	for {
		select {
		case h := <-p.idle:
			if err := h.Ping(); err != nil {
				p.discard(h, err)
				continue
			}
			return h, nil
		default:
		}

		p.mu.Lock()
		if p.active < p.cfg.MaxConns {
			p.active++
			p.mu.Unlock()
			h, err := db.Open(p.path)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				p.log.WithError(err).Error("could not open connection")
				return nil, fmt.Errorf("open %s connection: %w", p.store, err)
			}
			return h, nil
		}
		p.mu.Unlock()

		select {
		case h := <-p.idle:
			if err := h.Ping(); err != nil {
				p.discard(h, err)
				continue
			}
			return h, nil
		case <-deadline.C:
			p.log.WithField("max_conns", p.cfg.MaxConns).Warn("pool exhausted")
			return nil, fmt.Errorf("acquire %s connection: %w", p.store, ErrPoolExhausted)
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s connection: %w", p.store, ctx.Err())
		}
	}
}

// Release probes the handle and returns it to the idle set, closing it
// instead when the probe fails, the idle set is full, or the pool has
// been shut down.
func (p *Pool) Release(h *sql.DB) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.Close()
		return
	}
	p.mu.Unlock()
	if err := h.Ping(); err != nil {
		p.discard(h, err)
		return
	}
	select {
	case p.idle <- h:
	default:
		h.Close()
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *Pool) discard(h *sql.DB, err error) {
	h.Close()
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.log.WithError(err).Warn("dropped unhealthy connection")
}

// CloseAll drains and closes every pooled connection and resets the
// active count. Handles still checked out are closed when released
// instead of rejoining the pool; a later Acquire reopens the pool.
func (p *Pool) CloseAll() {
	for {
		select {
		case h := <-p.idle:
			if err := h.Close(); err != nil {
				p.log.WithError(err).Warn("error closing pooled connection")
			}
		default:
			p.mu.Lock()
			p.active = 0
			p.closed = true
			p.mu.Unlock()
			return
		}
	}
}

// Active reports how many connections the pool currently accounts for,
// idle and checked out combined.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
