package control

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provider"
	"github.com/gammadia/blockpool/status"
	"github.com/stretchr/testify/assert"
)

type mockPool struct {
	initFunc func(ctx context.Context) (provider.Handle, error)
	polls    atomic.Int32
	reaps    atomic.Int32
	pollErr  error
}

func (m *mockPool) Init(ctx context.Context) (provider.Handle, error) {
	if m.initFunc == nil {
		return "", nil
	}
	return m.initFunc(ctx)
}

func (m *mockPool) Poll(context.Context) (map[string]status.Status, error) {
	m.polls.Add(1)
	return map[string]status.Status{"a": status.Running, "b": status.Completed}, m.pollErr
}

func (m *mockPool) Reap(context.Context) ([]string, error) {
	m.reaps.Add(1)
	return []string{"b"}, nil
}

func TestRunOnce(t *testing.T) {
	inits := 0
	pool := &mockPool{
		initFunc: func(context.Context) (provider.Handle, error) {
			inits++
			return "handle", nil
		},
	}

	Run(context.Background(), pool, Config{Interval: time.Hour, Once: true})

	assert.Equal(t, 1, inits)
	assert.Equal(t, int32(1), pool.polls.Load())
	assert.Equal(t, int32(1), pool.reaps.Load())
}

func TestRunUntilCancelled(t *testing.T) {
	pool := &mockPool{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, pool, Config{Interval: time.Millisecond})
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return pool.polls.Load() >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestRunSurvivesFailures(t *testing.T) {
	pool := &mockPool{
		initFunc: func(context.Context) (provider.Handle, error) {
			return "", errors.New("reconcile failed")
		},
		pollErr: fmt.Errorf("%w: timeout", lifecycle.ErrBackendUnavailable),
	}

	Run(context.Background(), pool, Config{Interval: time.Hour, Once: true})

	assert.Equal(t, int32(1), pool.polls.Load())
	assert.Equal(t, int32(1), pool.reaps.Load())
}

func TestSummary(t *testing.T) {
	attributes := summary(map[string]status.Status{
		"a": status.Running,
		"b": status.Running,
		"c": status.Failed,
	})

	assert.Equal(t, []any{"running", 2, "failed", 1}, attributes)
}
