package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vrs-registry/internal/storage"
)

func memoryProvider(context.Context) (storage.Store, error) {
	return storage.NewMemoryStore(), nil
}

// waitForState polls until the run leaves the SENT state.
func waitForState(t *testing.T, q *Queue, id string) *Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := q.Status(context.Background(), id)
		require.NoError(t, err)
		if r.State != StateSent && r.State != StatePending {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", id)
	return nil
}

func TestQueueRunsTask(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{Workers: 1})
	defer q.Stop()

	err := q.Submit(context.Background(), "run-1", 1, func(ctx context.Context, store storage.Store) (string, error) {
		require.NotNil(t, store)
		return "/tmp/run-1.vcf", nil
	})
	require.NoError(t, err)

	r := waitForState(t, q, "run-1")
	assert.Equal(t, StateSuccess, r.State)
	assert.Equal(t, "/tmp/run-1.vcf", r.OutputPath)
	assert.Empty(t, r.ErrorCode)
}

func TestQueueUnknownRunIsPending(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{Workers: 1})
	defer q.Stop()

	r, err := q.Status(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.Equal(t, StatePending, r.State)
}

func TestQueueRejectsDuplicateRunID(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{Workers: 1})
	defer q.Stop()

	block := make(chan struct{})
	err := q.Submit(context.Background(), "dup", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		<-block
		return "", nil
	})
	require.NoError(t, err)

	err = q.Submit(context.Background(), "dup", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		return "", nil
	})
	var derr *DuplicateRunError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, StateSent, derr.State)
	close(block)
}

func TestQueueClassifiesFailures(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{Workers: 2})
	defer q.Stop()

	require.NoError(t, q.Submit(context.Background(), "boom", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		return "", errors.New("translator exploded")
	}))
	require.NoError(t, q.Submit(context.Background(), "panic", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		panic("lost it")
	}))

	r := waitForState(t, q, "boom")
	assert.Equal(t, StateFailure, r.State)
	assert.Equal(t, ErrRunFailure, r.ErrorCode)
	assert.Contains(t, r.Message, "translator exploded")

	r = waitForState(t, q, "panic")
	assert.Equal(t, StateFailure, r.State)
	assert.Equal(t, ErrWorkerLost, r.ErrorCode)
}

func TestQueueDownstreamTimeoutIsRunFailure(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{Workers: 1})
	defer q.Stop()

	// A timeout inside the task's work (a slow upstream call) is not
	// the run's own time limit.
	require.NoError(t, q.Submit(context.Background(), "upstream", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		return "", fmt.Errorf("translate batch: %w", context.DeadlineExceeded)
	}))

	r := waitForState(t, q, "upstream")
	assert.Equal(t, StateFailure, r.State)
	assert.Equal(t, ErrRunFailure, r.ErrorCode)
}

func TestQueueSoftTimeLimit(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{
		Workers:       1,
		SoftTimeLimit: 10 * time.Millisecond,
		HardTimeLimit: 5 * time.Second,
	})
	defer q.Stop()

	require.NoError(t, q.Submit(context.Background(), "slow", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	r := waitForState(t, q, "slow")
	assert.Equal(t, StateFailure, r.State)
	assert.Equal(t, ErrTimeLimitExceeded, r.ErrorCode)
}

func TestQueueHardTimeLimit(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{
		Workers:       1,
		SoftTimeLimit: 10 * time.Millisecond,
		HardTimeLimit: 20 * time.Millisecond,
	})
	defer q.Stop()

	unblock := make(chan struct{})
	defer close(unblock)
	require.NoError(t, q.Submit(context.Background(), "stuck", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		// Ignores cancellation entirely.
		<-unblock
		return "", nil
	}))

	r := waitForState(t, q, "stuck")
	assert.Equal(t, StateFailure, r.State)
	assert.Equal(t, ErrTimeLimitExceeded, r.ErrorCode)
}

func TestQueueForget(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), memoryProvider, Options{Workers: 1})
	defer q.Stop()

	require.NoError(t, q.Submit(context.Background(), "gone", 1, func(ctx context.Context, _ storage.Store) (string, error) {
		return "", nil
	}))
	waitForState(t, q, "gone")

	require.NoError(t, q.Forget(context.Background(), "gone"))
	r, err := q.Status(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, StatePending, r.State)
}

func TestRedisBackendRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	backend, err := NewRedisBackend("redis://"+srv.Addr(), 0)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	r, err := backend.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, r)

	want := Result{ID: "run-9", State: StateFailure, ErrorCode: ErrRunFailure, Message: "nope"}
	require.NoError(t, backend.Set(ctx, want))

	// Keys are namespaced and expire.
	require.True(t, srv.Exists("anyvar_run-9"))
	assert.Equal(t, DefaultResultTTL, srv.TTL("anyvar_run-9"))

	r, err = backend.Get(ctx, "run-9")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, want, *r)

	require.NoError(t, backend.Forget(ctx, "run-9"))
	r, err = backend.Get(ctx, "run-9")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRedisBackendExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	backend, err := NewRedisBackend("redis://"+srv.Addr(), time.Second)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, Result{ID: "r", State: StateSuccess}))
	srv.FastForward(2 * time.Second)

	r, err := backend.Get(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestQueueSharedStoreInitializedOnce(t *testing.T) {
	opened := 0
	provider := func(context.Context) (storage.Store, error) {
		opened++
		return storage.NewMemoryStore(), nil
	}
	q := NewQueue(NewMemoryBackend(), provider, Options{Workers: 4})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Submit(context.Background(), id, 1, func(ctx context.Context, store storage.Store) (string, error) {
			require.NotNil(t, store)
			return "", nil
		}))
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		waitForState(t, q, id)
	}
	q.Stop()
	assert.Equal(t, 1, opened)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 1, RetryAfter(0, false, 500))
	assert.Equal(t, 1, RetryAfter(400, false, 500))
	assert.Equal(t, 2, RetryAfter(400, true, 500))
	assert.Equal(t, 2, RetryAfter(1000, false, 500))
	assert.Equal(t, 4, RetryAfter(1000, true, 500))
	// Non-positive rate falls back to the default.
	assert.Equal(t, 2, RetryAfter(1000, false, 0))
}
