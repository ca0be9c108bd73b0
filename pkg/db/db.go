package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrConnectionFailed is returned once the manager has exhausted its
// retries. The manager stays failed afterwards; no entity operation can
// proceed without a connection.
var ErrConnectionFailed = errors.New("connection_failed")

const maxAttempts = 5

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
	stateFailed
)

// Config controls how the shared database handle is established.
type Config struct {
	// DSN is a postgres URL or, for local development and tests, a sqlite
	// path / ":memory:".
	DSN string
	// RetryBaseDelay is multiplied by the attempt number between attempts.
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.DSN) == "" {
		c.DSN = "file::memory:?cache=shared"
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	return c
}

// Manager owns the process-wide database handle. The first caller triggers
// the dial; callers that arrive while an attempt is in flight wait for that
// attempt's outcome instead of dialing again. A handle, once established, is
// cached for the life of the process.
type Manager struct {
	cfg  Config
	log  *zap.Logger
	open func(cfg Config) (*gorm.DB, error)

	mu      sync.Mutex
	state   state
	handle  *gorm.DB
	lastErr error
	done    chan struct{}
}

// NewManager builds a Manager. The dial itself is deferred until Connect.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		cfg:  cfg.withDefaults(),
		log:  log.Named("db"),
		open: openDialector,
	}
}

// Connect returns the shared handle, establishing it on first use.
func (m *Manager) Connect(ctx context.Context) (*gorm.DB, error) {
	m.mu.Lock()
	switch m.state {
	case stateConnected:
		handle := m.handle
		m.mu.Unlock()
		return handle, nil
	case stateFailed:
		err := m.lastErr
		m.mu.Unlock()
		return nil, err
	case stateConnecting:
		done := m.done
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return m.Connect(ctx)
	}

	m.state = stateConnecting
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	handle, err := m.dial(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = stateFailed
		m.lastErr = err
	} else {
		m.state = stateConnected
		m.handle = handle
	}
	close(done)
	m.mu.Unlock()

	return handle, err
}

func (m *Manager) dial(ctx context.Context) (*gorm.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		handle, err := m.open(m.cfg)
		if err == nil {
			m.log.Info("database connected", zap.Int("attempt", attempt))
			return handle, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := time.Duration(attempt) * m.cfg.RetryBaseDelay
		m.log.Warn("unable to connect to database, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectionFailed, maxAttempts, lastErr)
}

func openDialector(cfg Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
	return gorm.Open(sqlite.Open(dsn), gormCfg)
}
