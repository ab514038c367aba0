package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-trader/internal/config"
)

var errBroker = errors.New("broker down")

func newTestBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		Timeout:          timeout,
	}, zerolog.Nop())
}

func fail(context.Context) error    { return errBroker }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(1), cb.Stats().TotalRejected)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestExecuteWithResult_ReturnsValue(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)
	v, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (float64, error) {
		return 101.5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 101.5, v)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.CircuitBreakerConfig{MaxFailures: 7, ResetTimeout: 5 * time.Second})
	assert.Equal(t, 7, cfg.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.SuccessThreshold)
}

func TestRegistry_ReusesBreakers(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), zerolog.Nop())
	assert.Same(t, r.Get("alpaca"), r.Get("alpaca"))
	assert.NotSame(t, r.Get("alpaca"), r.Get("kite"))
	assert.Len(t, r.AllStats(), 2)
}

// Property: fewer consecutive failures than the threshold never open the circuit.
func TestProperty_BelowThresholdStaysClosed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("failures below threshold keep circuit closed", prop.ForAll(
		func(threshold int) bool {
			cb := newTestBreaker(threshold, time.Minute)
			for i := 0; i < threshold-1; i++ {
				_ = cb.Execute(context.Background(), fail)
			}
			return cb.State() == CircuitClosed
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
