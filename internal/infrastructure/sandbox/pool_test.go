package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_Capacity(t *testing.T) {
	p := NewPool(4, nil)
	assert.Equal(t, 4, p.Capacity())
	assert.Equal(t, 0, p.InUse())
}

func TestNewPool_MinimumCapacity(t *testing.T) {
	p := NewPool(0, nil)
	assert.Equal(t, 1, p.Capacity())
}

func TestPool_AcquireRelease(t *testing.T) {
	p := NewPool(2, nil)
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))
	assert.Equal(t, 1, p.InUse())

	require.NoError(t, p.Acquire(ctx))
	assert.Equal(t, 2, p.InUse())

	p.Release()
	assert.Equal(t, 1, p.InUse())

	p.Release()
	assert.Equal(t, 0, p.InUse())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(1, nil)
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))

	// Второй захват должен упереться в дедлайн
	deadlineCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := p.Acquire(deadlineCtx)
	require.Error(t, err)
	appErr := errors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrSandboxBusy.Code, appErr.Code)
}

func TestPool_AcquireAfterRelease(t *testing.T) {
	p := NewPool(1, nil)
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))

	done := make(chan error, 1)
	go func() {
		acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		done <- p.Acquire(acquireCtx)
	}()

	// Даём второму захвату встать в очередь, затем освобождаем слот
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, p.Waiting())
	p.Release()

	require.NoError(t, <-done)
	assert.Equal(t, 1, p.InUse())
}

func TestPool_CancelledContext(t *testing.T) {
	p := NewPool(1, nil)
	require.NoError(t, p.Acquire(context.Background()))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Acquire(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
