package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const DefaultIdleTTL = 30 * time.Minute

// maxSweepInterval bounds how long an expired session may linger before it is swept.
const maxSweepInterval = time.Minute

// Store owns every live session's State. Sessions idle for longer than the
// configured TTL are evicted; reading a session extends its lifetime.
type Store struct {
	mu       sync.Mutex
	cache    *ttlcache.Cache[string, *State]
	maxTurns int
	sweep    time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock drives the eviction sweep from clock instead of the real clock.
func WithClock(clock clockwork.Clock) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates a session store. Call Start to begin idle eviction and Close to stop it.
func NewStore(maxTurns int, idleTTL time.Duration, logger *zap.Logger, opts ...StoreOption) *Store {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	logger = logger.Named("conversation")

	cache := ttlcache.New[string, *State](
		ttlcache.WithTTL[string, *State](idleTTL),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *State]) {
		if reason == ttlcache.EvictionReasonExpired {
			logger.Debug("evicted idle session",
				zap.String("session_id", item.Key()),
				zap.Int("turns", item.Value().Len()),
			)
		}
	})

	s := &Store{
		cache:    cache,
		maxTurns: maxTurns,
		sweep:    min(idleTTL, maxSweepInterval),
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps expired sessions in the background until Close.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done
	ticker := s.clock.NewTicker(s.sweep)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				s.cache.DeleteExpired()
			}
		}
	}()
}

// Close stops idle eviction and waits for the sweep loop to exit.
func (s *Store) Close() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Get returns the session's state, creating an empty one on first use.
func (s *Store) Get(sessionID string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.cache.Get(sessionID); item != nil {
		return item.Value()
	}
	state := NewState(sessionID, s.maxTurns)
	s.cache.Set(sessionID, state, ttlcache.DefaultTTL)
	s.logger.Debug("created session", zap.String("session_id", sessionID))
	return state
}

// Lookup returns the session's state without creating it.
func (s *Store) Lookup(sessionID string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.cache.Get(sessionID); item != nil {
		return item.Value(), true
	}
	return nil, false
}

// Reset destroys the session's history. It waits for an in-flight turn of the
// session to finish, so a reset never interleaves with a turn; the session keeps
// its State and the next turn starts with no context.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	state, ok := s.Lookup(sessionID)
	if !ok {
		return nil
	}
	release, err := state.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("reset session %s: %w", sessionID, err)
	}
	defer release()

	state.Clear()
	return nil
}

// Len returns the number of live sessions. Expired sessions are not counted.
func (s *Store) Len() int {
	return s.cache.Len()
}
