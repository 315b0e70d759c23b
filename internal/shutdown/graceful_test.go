package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsInOrder(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, logrus.New())

	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	gs.RegisterShutdownFunc("store", record("store"), OrderCloseStore)
	gs.RegisterShutdownFunc("ingest", record("ingest"), OrderStopIngestion)
	gs.RegisterShutdownFunc("api", record("api"), OrderStopAPI)
	gs.RegisterShutdownFunc("chains", record("chains"), OrderCloseChains)

	gs.Shutdown()

	assert.Equal(t, []string{"ingest", "api", "store", "chains"}, order)
	assert.Empty(t, gs.Wait())
	assert.True(t, gs.IsShuttingDown())
}

func TestShutdown_CancelsContextFirst(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, logrus.New())

	var ctxErr error
	gs.RegisterShutdownFunc("check", func(ctx context.Context) error {
		ctxErr = gs.Context().Err()
		return nil
	}, OrderStopAPI)

	gs.Shutdown()
	assert.ErrorIs(t, ctxErr, context.Canceled)

	select {
	case <-gs.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestShutdown_CollectsErrorsAndRunsOnce(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, logrus.New())

	calls := 0
	gs.RegisterShutdownFunc("broken", func(ctx context.Context) error {
		calls++
		return errors.New("close failed")
	}, OrderCloseStore)

	gs.Shutdown()
	gs.Shutdown()

	errs := gs.Wait()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "broken")
	assert.Equal(t, 1, calls)
}

func TestShutdown_TimeoutSkipsRemaining(t *testing.T) {
	gs := NewGracefulShutdown(20*time.Millisecond, logrus.New())

	skipped := true
	gs.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, OrderStopAPI)
	gs.RegisterShutdownFunc("after", func(ctx context.Context) error {
		skipped = false
		return nil
	}, OrderCloseStore)

	gs.Shutdown()

	assert.True(t, skipped)
	assert.Len(t, gs.Wait(), 2)
}
