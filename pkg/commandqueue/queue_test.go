package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	result, err := cq.Enqueue(context.Background(), "session:a", func(ctx context.Context) (interface{}, error) {
		return "result", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Empty(t, cq.Stats(), "idle lanes are dropped")
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "session:a", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}, nil)

	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, result)
}

func TestCommandQueue_EmptyLane(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrEmptyLane)
}

func TestCommandQueue_SameLaneRunsOneAtATimeInOrder(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap int32
	)

	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil, nil
		}, nil)
	}()
	<-started

	for i := 1; i <= 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
				if atomic.AddInt32(&running, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				defer atomic.AddInt32(&running, -1)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
		// enqueue in a known order
		require.Eventually(t, func() bool { return cq.QueueSize("session:x") == i }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestCommandQueue_DifferentLanesRunConcurrently(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	bothRunning := make(chan struct{})
	var arrived int32

	task := func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&arrived, 1) == 2 {
			close(bothRunning)
		}
		select {
		case <-bothRunning:
			return "ok", nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("lanes did not overlap")
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, lane := range []string{"session:a", "session:b"} {
		i, lane := i, lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cq.Enqueue(context.Background(), lane, task, nil)
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestCommandQueue_ContextCancelledWhileQueued(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(ctx, "session:x", func(ctx context.Context) (interface{}, error) {
			ran.Store(true)
			return nil, nil
		}, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return cq.QueueSize("session:x") == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not return after cancel")
	}

	close(release)
	require.Eventually(t, func() bool { return len(cq.Stats()) == 0 }, time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestCommandQueue_TaskSeesCallerContext(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(ctx, "session:x", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		done <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCommandQueue_PanicBecomesError(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)
	assert.ErrorContains(t, err, "task panicked: boom")

	result, err := cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
		return "next", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "next", result)
}

func TestCommandQueue_OnWait(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	waited := make(chan int, 1)
	go func() {
		_, _ = cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfter: 20 * time.Millisecond,
			OnWait: func(wait time.Duration, queuePos int) {
				waited <- queuePos
			},
		})
	}()

	select {
	case pos := <-waited:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait not called")
	}
	close(release)
}

func TestCommandQueue_RequestIDDedup(t *testing.T) {
	cq := New(Options{DedupTTL: time.Minute})
	defer cq.Close()

	var runs int32
	task := func(ctx context.Context) (interface{}, error) {
		return atomic.AddInt32(&runs, 1), nil
	}

	opts := &TaskOptions{RequestID: "req-1"}
	first, err := cq.Enqueue(context.Background(), "session:x", task, opts)
	require.NoError(t, err)
	second, err := cq.Enqueue(context.Background(), "session:x", task, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	_, err = cq.Enqueue(context.Background(), "session:x", task, &TaskOptions{RequestID: "req-2"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestCommandQueue_RequestIDScopedToLane(t *testing.T) {
	cq := New(Options{DedupTTL: time.Minute})
	defer cq.Close()

	opts := &TaskOptions{RequestID: "1"}
	alice, err := cq.Enqueue(context.Background(), "session:alice", func(ctx context.Context) (interface{}, error) {
		return "answer for alice", nil
	}, opts)
	require.NoError(t, err)

	var bobRan atomic.Bool
	bob, err := cq.Enqueue(context.Background(), "session:bob", func(ctx context.Context) (interface{}, error) {
		bobRan.Store(true)
		return "answer for bob", nil
	}, opts)
	require.NoError(t, err)

	assert.True(t, bobRan.Load(), "the same request ID on another lane must run")
	assert.Equal(t, "answer for alice", alice)
	assert.Equal(t, "answer for bob", bob)
}

func TestCommandQueue_NilTask(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "session:x", nil, nil)
	assert.ErrorIs(t, err, ErrNilTask)
	assert.Empty(t, cq.Stats())
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New(Options{})

	started := make(chan struct{})
	running := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		running <- err
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		queued <- err
	}()
	require.Eventually(t, func() bool { return cq.QueueSize("session:x") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-running, context.Canceled)
	assert.ErrorIs(t, <-queued, ErrQueueClosed)

	_, err := cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.NoError(t, cq.Close())
}

func TestCommandQueue_WaitForActive(t *testing.T) {
	cq := New(Options{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "session:x", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started
	assert.Equal(t, 1, cq.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.False(t, cq.WaitForActive(ctx))

	close(release)
	assert.True(t, cq.WaitForActive(context.Background()))
}

func TestLaneKind(t *testing.T) {
	assert.Equal(t, "session", LaneKind("session:abc"))
	assert.Equal(t, "main", LaneKind("main"))
}
