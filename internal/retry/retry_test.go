package retry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastConfig = &RetryConfig{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	BackoffFactor:   2,
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("header not found"), true},
		{fmt.Errorf("wrapped: %w", errors.New("i/o timeout")), true},
		{errors.New("invalid argument 0: hex string without 0x prefix"), false},
		{Permanent(errors.New("connection refused")), false},
		{context.Canceled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestExecute_RetriesTransientErrors(t *testing.T) {
	r := NewRetrier(fastConfig, logrus.New())

	calls := 0
	err := r.Execute(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_GivesUp(t *testing.T) {
	r := NewRetrier(fastConfig, logrus.New())

	calls := 0
	err := r.Execute(context.Background(), "test", func() error {
		calls++
		return errors.New("service unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "service unavailable")
}

func TestExecute_StopsOnPermanentError(t *testing.T) {
	r := NewRetrier(fastConfig, logrus.New())

	calls := 0
	cause := errors.New("execution reverted")
	err := r.Execute(context.Background(), "test", func() error {
		calls++
		return cause
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestExecute_ContextCancelled(t *testing.T) {
	r := NewRetrier(fastConfig, logrus.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Execute(ctx, "test", func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_ReturnsValue(t *testing.T) {
	r := NewRetrier(fastConfig, logrus.New())

	calls := 0
	balance, err := Do(context.Background(), r, "balance_at", func() (*big.Int, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		return big.NewInt(42), nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())
}

func TestCalculateDelay(t *testing.T) {
	r := NewRetrier(&RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     300 * time.Millisecond,
		BackoffFactor:   2,
	}, logrus.New())

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 300*time.Millisecond, r.calculateDelay(3))

	r = NewRetrier(&RetryConfig{InitialInterval: time.Second, MaxInterval: time.Minute, BackoffFactor: 1, RandomizationFactor: 0.5}, logrus.New())
	for i := 0; i < 20; i++ {
		d := r.calculateDelay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
