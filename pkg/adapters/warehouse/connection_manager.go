package warehouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/logging"
	"github.com/ekaya-inc/portfolio-chat/pkg/retry"
)

const (
	DefaultConnectionTTL   = 5 * time.Minute
	DefaultCleanupInterval = 1 * time.Minute
	DefaultPoolMaxConns    = 10
	healthCheckTimeout     = 5 * time.Second
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	PoolMaxConns    int
	Clock           clockwork.Clock
}

// OpenFunc opens a new pool for a key.
type OpenFunc func(ctx context.Context) (PoolConnector, error)

// ConnectionManager caches warehouse pools by key, health-checks them on
// reuse and closes pools that sit idle longer than the TTL.
type ConnectionManager struct {
	mu              sync.RWMutex
	connections     map[string]*managedConnection
	ttl             time.Duration
	cleanupInterval time.Duration
	poolMaxConns    int
	clock           clockwork.Clock
	stopped         bool
	stopChan        chan struct{}
	done            chan struct{}
	logger          *zap.Logger
}

type managedConnection struct {
	pool     PoolConnector
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConnectionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &ConnectionManager{
		connections:     make(map[string]*managedConnection),
		ttl:             cfg.TTL,
		cleanupInterval: cfg.CleanupInterval,
		poolMaxConns:    cfg.PoolMaxConns,
		clock:           cfg.Clock,
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger.Named("connections"),
	}

	go m.cleanupExpiredConnections()
	return m
}

// PoolMaxConns is the per-pool connection cap adapters should apply.
func (m *ConnectionManager) PoolMaxConns() int {
	return m.poolMaxConns
}

// TTL is the idle lifetime of a pool.
func (m *ConnectionManager) TTL() time.Duration {
	return m.ttl
}

// GetOrOpen returns the pool cached under key, opening one with open when
// none exists or the cached pool fails its health check.
func (m *ConnectionManager) GetOrOpen(ctx context.Context, key string, open OpenFunc) (PoolConnector, error) {
	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		return nil, fmt.Errorf("connection manager is closed")
	}
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		_, err := retry.DoWithResult(healthCtx, retry.DefaultConfig(), func() (struct{}, error) {
			return struct{}{}, managed.pool.Ping(healthCtx)
		})
		cancel()

		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.removeConnection(key)
			return m.openPool(ctx, key, open)
		}

		managed.lastUsed = m.clock.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	return m.openPool(ctx, key, open)
}

// openPool opens a pool with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) openPool(ctx context.Context, key string, open OpenFunc) (PoolConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have opened it while we waited for the lock
	if managed, exists := m.connections[key]; exists {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = m.clock.Now()
		return managed.pool, nil
	}

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (PoolConnector, error) {
		return open(ctx)
	})
	if err != nil {
		m.logger.Error("failed to open pool after retries",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to open pool for %s: %w", key, err)
	}

	m.connections[key] = &managedConnection{
		pool:     pool,
		lastUsed: m.clock.Now(),
	}

	m.logger.Info("opened warehouse pool",
		zap.String("key", key),
		zap.String("type", pool.GetType()),
	)
	return pool, nil
}

// removeConnection removes a connection from the cache and closes it.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists {
		m.closePool(key, managed.pool)
		delete(m.connections, key)
	}
}

func (m *ConnectionManager) closePool(key string, pool PoolConnector) {
	if pool == nil {
		return
	}
	if err := pool.Close(); err != nil {
		m.logger.Warn("failed to close pool",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

func (m *ConnectionManager) cleanupExpiredConnections() {
	defer close(m.done)

	ticker := m.clock.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup closes pools that have not been used within the TTL.
// Lock order is manager then connection.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := m.clock.Now()
	var expired []string
	for key, managed := range m.connections {
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idle > m.ttl {
			expired = append(expired, key)
			m.logger.Debug("marking connection for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idle),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, key := range expired {
		m.closePool(key, m.connections[key].pool)
		delete(m.connections, key)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes every pool and stops the cleanup goroutine.
// Idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopChan)

	for key, managed := range m.connections {
		m.closePool(key, managed.pool)
	}
	m.connections = make(map[string]*managedConnection)
	m.mu.Unlock()

	<-m.done
	m.logger.Debug("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		TTL:               m.ttl,
		ConnectionsByType: make(map[string]int),
	}

	for _, managed := range m.connections {
		stats.ConnectionsByType[managed.pool.GetType()]++

		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()
		if idle > stats.OldestIdle {
			stats.OldestIdle = idle
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	TTL               time.Duration  `json:"ttl"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	OldestIdle        time.Duration  `json:"oldest_idle"`
}
