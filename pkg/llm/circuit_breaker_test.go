package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker(threshold int) (*CircuitBreaker, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  threshold,
		ResetAfter: 30 * time.Second,
		Clock:      clock,
	}), clock
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := newTestBreaker(5)

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.Equal(t, ErrorTypeCircuit, GetErrorType(err))
	assert.False(t, IsRetryable(err))
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, 1, cb.ConsecutiveFailures())
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.RecordFailure()

	clock.Advance(10 * time.Second)
	assert.Error(t, cb.Allow(), "still open before ResetAfter")

	clock.Advance(21 * time.Second)
	require.NoError(t, cb.Allow(), "probe allowed after ResetAfter")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.Error(t, cb.Allow(), "only one probe at a time")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, CircuitOpen, cb.State())
	assert.Error(t, cb.Allow())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb, _ := newTestBreaker(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Allow()
			if i%2 == 0 {
				cb.RecordFailure()
			} else {
				_ = cb.State()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, cb.ConsecutiveFailures())
}

func TestGuardedClient(t *testing.T) {
	failure := NewError(ErrorTypeEndpoint, "server error", true, nil)
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*GenerateResponseResult, error) {
		return nil, failure
	}

	cb, _ := newTestBreaker(2)
	client := NewGuardedClient(mock, cb, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.GenerateResponse(ctx, "p", "s", 0, false)
		assert.True(t, errors.Is(err, failure))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	_, err := client.GenerateResponse(ctx, "p", "s", 0, false)
	assert.Equal(t, ErrorTypeCircuit, GetErrorType(err))
	assert.Equal(t, 2, mock.Calls(), "open circuit does not reach the provider")
	assert.Equal(t, "mock-model", client.GetModel())
}

func TestGuardedClient_CancellationIsNotAFailure(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, _ string, _ string, _ float64, _ bool) (*GenerateResponseResult, error) {
		return nil, ctx.Err()
	}

	cb, _ := newTestBreaker(1)
	client := NewGuardedClient(mock, cb, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GenerateResponse(ctx, "p", "s", 0, false)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}
