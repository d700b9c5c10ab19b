package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStore_GetReturnsSameSession(t *testing.T) {
	store := NewStore(10, time.Minute, zap.NewNop())

	a := store.Get("s1")
	b := store.Get("s1")
	c := store.Get("s2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "s1", a.SessionID())
	assert.Equal(t, 2, store.Len())
}

func TestStore_SessionsAreIndependent(t *testing.T) {
	store := NewStore(10, time.Minute, zap.NewNop())

	store.Get("s1").Append(turnWith("q", explicit("metric", "noi")))

	assert.Equal(t, 1, store.Get("s1").Len())
	assert.Equal(t, 0, store.Get("s2").Len())
}

func TestStore_Reset(t *testing.T) {
	store := NewStore(10, time.Minute, zap.NewNop())

	state := store.Get("s1")
	state.Append(turnWith("q"))
	store.Get("s2").Append(turnWith("q"))

	require.NoError(t, store.Reset(context.Background(), "s1"))

	assert.Same(t, state, store.Get("s1"), "the session keeps its state and turn lock")
	assert.Equal(t, 0, state.Len(), "a reset session holds no history")
	assert.Equal(t, 1, store.Get("s2").Len())

	require.NoError(t, store.Reset(context.Background(), "unknown"))
	_, ok := store.Lookup("unknown")
	assert.False(t, ok, "resetting an unknown session does not create it")
}

func TestStore_ResetWaitsForInFlightTurn(t *testing.T) {
	store := NewStore(10, time.Minute, zap.NewNop())
	state := store.Get("s1")
	state.Append(turnWith("q"))

	release, err := state.Acquire(context.Background())
	require.NoError(t, err)

	reset := make(chan error, 1)
	go func() { reset <- store.Reset(context.Background(), "s1") }()

	select {
	case err := <-reset:
		t.Fatalf("reset finished while a turn held the session: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, state.Len(), "history is untouched while the turn runs")

	release()
	require.NoError(t, <-reset)
	assert.Equal(t, 0, state.Len())
}

func TestStore_ResetHonoursContext(t *testing.T) {
	store := NewStore(10, time.Minute, zap.NewNop())
	state := store.Get("s1")
	state.Append(turnWith("q"))

	release, err := state.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = store.Reset(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, state.Len())
}

func TestStore_EvictsIdleSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(10, 50*time.Millisecond, zap.NewNop())
	store.Start()
	defer store.Close()

	store.Get("idle")

	require.Eventually(t, func() bool {
		_, ok := store.Lookup("idle")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, store.Len())
}

func TestStore_SweepsOnTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClock()
	core, recorded := observer.New(zapcore.DebugLevel)
	store := NewStore(10, 20*time.Millisecond, zap.New(core), WithClock(clock))
	store.Start()
	defer store.Close()

	store.Get("idle")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, store.Len(), "expired sessions are not counted")
	assert.Zero(t, recorded.FilterMessage("evicted idle session").Len(), "nothing is swept before the tick")

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(20 * time.Millisecond)

	require.Eventually(t, func() bool {
		return recorded.FilterMessage("evicted idle session").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStore_CloseStopsEviction(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(10, time.Minute, zap.NewNop())
	store.Start()
	store.Start() // second start is a no-op
	store.Close()
	store.Close() // idempotent
}

func TestStore_CloseRightAfterStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	for range 20 {
		store := NewStore(10, time.Minute, zap.NewNop())
		store.Start()

		closed := make(chan struct{})
		go func() {
			store.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(time.Second):
			t.Fatal("Close did not return")
		}
	}
}

func TestStore_RestartAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(10, time.Minute, zap.NewNop())
	store.Start()
	store.Close()
	store.Start()
	store.Close()
}
