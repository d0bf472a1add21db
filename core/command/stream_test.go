package command_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/collidor/core/command"
)

// countHandler emits 0..n-1 synchronously, marking the last item as done.
func countHandler(_ context.Context, cmd command.Command, next command.Next) command.Teardown {
	n := cmd.Payload.(int)
	if n == 0 {
		next(nil, true, nil)
		return nil
	}
	for i := range n {
		next(i, i == n-1, nil)
	}
	return nil
}

// tickHandler emits increasing integers until its context is cancelled.
func tickHandler(teardowns *atomic.Int32) command.StreamHandler {
	return func(ctx context.Context, _ command.Command, next command.Next) command.Teardown {
		go func() {
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					next(i, false, nil)
				}
			}
		}()
		return func() { teardowns.Add(1) }
	}
}

func TestStreamDeliversInOrder(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 5, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()

			d := command.NewSyncDispatcher()
			d.RegisterStream("Count", countHandler)

			got := []int{}
			var done bool
			cancel, err := d.Stream(context.Background(), command.NewStream("Count", n), func(v any, isDone bool, err error) {
				require.NoError(t, err)
				if v != nil {
					got = append(got, v.(int))
				}
				done = isDone
			})
			require.NoError(t, err)
			defer cancel()

			expected := []int{}
			for i := range n {
				expected = append(expected, i)
			}
			assert.Equal(t, expected, got)
			assert.True(t, done)
		})
	}
}

func TestStreamLatchesAfterTerminal(t *testing.T) {
	t.Parallel()

	d := command.NewSyncDispatcher()
	d.RegisterStream("Noisy", func(_ context.Context, _ command.Command, next command.Next) command.Teardown {
		next(1, true, nil)
		next(2, false, nil)
		next(nil, true, fmt.Errorf("late error"))
		return nil
	})

	var calls []any
	_, err := d.Stream(context.Background(), command.NewStream("Noisy", nil), func(v any, _ bool, err error) {
		calls = append(calls, v)
		assert.NoError(t, err)
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, calls)
}

func TestStreamErrorIsTerminal(t *testing.T) {
	t.Parallel()

	d := command.NewSyncDispatcher()
	boom := fmt.Errorf("boom")
	d.RegisterStream("Failing", func(_ context.Context, _ command.Command, next command.Next) command.Teardown {
		next(1, false, nil)
		next(nil, false, boom)
		next(2, false, nil)
		return nil
	})

	var values []any
	var gotErr error
	_, err := d.Stream(context.Background(), command.NewStream("Failing", nil), func(v any, _ bool, err error) {
		if err != nil {
			gotErr = err
			return
		}
		values = append(values, v)
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, values)
	assert.ErrorIs(t, gotErr, boom)
}

func TestStreamTeardown(t *testing.T) {
	t.Parallel()

	t.Run("cancel runs teardown exactly once", func(t *testing.T) {
		t.Parallel()

		var teardowns, received atomic.Int32
		d := command.NewSyncDispatcher()
		d.RegisterStream("Ticks", tickHandler(&teardowns))

		cancel, err := d.Stream(context.Background(), command.NewStream("Ticks", nil), func(any, bool, error) {
			received.Add(1)
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return received.Load() >= 3 }, time.Second, time.Millisecond)
		cancel()
		cancel()
		assert.Equal(t, int32(1), teardowns.Load())

		time.Sleep(5 * time.Millisecond)
		seen := received.Load()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, seen, received.Load(), "no values after cancellation")
		assert.Equal(t, int32(1), teardowns.Load())
	})

	t.Run("context cancellation runs teardown and cancels handler context", func(t *testing.T) {
		t.Parallel()

		var teardowns atomic.Int32
		handlerCtx := make(chan context.Context, 1)
		d := command.NewSyncDispatcher()
		d.RegisterStream("Ticks", func(ctx context.Context, cmd command.Command, next command.Next) command.Teardown {
			handlerCtx <- ctx
			return tickHandler(&teardowns)(ctx, cmd, next)
		})

		ctx, cancelCtx := context.WithCancel(context.Background())
		cancel, err := d.Stream(ctx, command.NewStream("Ticks", nil), nil)
		require.NoError(t, err)
		hctx := <-handlerCtx

		cancelCtx()
		require.Eventually(t, func() bool { return teardowns.Load() == 1 }, time.Second, time.Millisecond)
		require.Eventually(t, func() bool { return hctx.Err() != nil }, time.Second, time.Millisecond)

		cancel()
		assert.Equal(t, int32(1), teardowns.Load())
	})

	t.Run("natural completion runs teardown once", func(t *testing.T) {
		t.Parallel()

		var teardowns atomic.Int32
		d := command.NewSyncDispatcher()
		d.RegisterStream("One", func(_ context.Context, _ command.Command, next command.Next) command.Teardown {
			next("only", true, nil)
			return func() { teardowns.Add(1) }
		})

		cancel, err := d.Stream(context.Background(), command.NewStream("One", nil), nil)
		require.NoError(t, err)
		assert.Equal(t, int32(1), teardowns.Load())

		cancel()
		assert.Equal(t, int32(1), teardowns.Load())
	})

	t.Run("cancel from inside the consumer", func(t *testing.T) {
		t.Parallel()

		var teardowns, received atomic.Int32
		d := command.NewSyncDispatcher()
		d.RegisterStream("Ticks", tickHandler(&teardowns))

		var (
			mu     sync.Mutex
			cancel func()
		)
		stop, err := d.Stream(context.Background(), command.NewStream("Ticks", nil), func(any, bool, error) {
			if received.Add(1) < 3 {
				return
			}
			mu.Lock()
			c := cancel
			mu.Unlock()
			if c != nil {
				c()
			}
		})
		require.NoError(t, err)
		mu.Lock()
		cancel = stop
		mu.Unlock()

		require.Eventually(t, func() bool { return teardowns.Load() == 1 }, time.Second, time.Millisecond)
		seen := received.Load()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, seen, received.Load(), "no values after cancellation")
	})

	t.Run("already cancelled context is rejected", func(t *testing.T) {
		t.Parallel()

		var called atomic.Bool
		d := command.NewSyncDispatcher()
		d.RegisterStream("Never", func(context.Context, command.Command, command.Next) command.Teardown {
			called.Store(true)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := d.Stream(ctx, command.NewStream("Never", nil), nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called.Load())
	})
}

func TestStreamNotFound(t *testing.T) {
	t.Parallel()

	d := command.NewSyncDispatcher()
	cancel, err := d.Stream(context.Background(), command.NewStream("Missing", nil), nil)
	assert.ErrorIs(t, err, command.ErrNotFound)
	assert.Nil(t, cancel)
}

type streamPlugin struct {
	teardowns atomic.Int32
}

func (p *streamPlugin) InterceptStream(_ context.Context, _ command.Command, next command.Next) (command.Teardown, error) {
	next("intercepted", true, nil)
	return func() { p.teardowns.Add(1) }, nil
}

func TestStreamInterceptor(t *testing.T) {
	t.Parallel()

	p := &streamPlugin{}
	d := command.NewSyncDispatcher(command.WithPlugin(p))

	var got any
	_, err := d.Stream(context.Background(), command.NewStream("Remote", nil), func(v any, _ bool, _ error) {
		got = v
	})
	require.NoError(t, err)
	assert.Equal(t, "intercepted", got)
	assert.Equal(t, int32(1), p.teardowns.Load())

	_, err = d.StreamLocal(context.Background(), command.NewStream("Remote", nil), nil)
	assert.ErrorIs(t, err, command.ErrNotFound, "StreamLocal bypasses the plugin")
}

func TestConcurrentStreamsAreIndependent(t *testing.T) {
	t.Parallel()

	d := command.NewSyncDispatcher()
	d.RegisterStream("Scaled", func(ctx context.Context, cmd command.Command, next command.Next) command.Teardown {
		base := cmd.Payload.(int)
		go func() {
			for i := range 5 {
				time.Sleep(time.Millisecond)
				next(base*10+i, i == 4, nil)
			}
		}()
		return nil
	})

	run := func(payload int) []int {
		var (
			mu  sync.Mutex
			got []int
		)
		done := make(chan struct{})
		_, err := d.Stream(context.Background(), command.NewStream("Scaled", payload), func(v any, isDone bool, _ error) {
			mu.Lock()
			got = append(got, v.(int))
			mu.Unlock()
			if isDone {
				close(done)
			}
		})
		if !assert.NoError(t, err) {
			return nil
		}

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("stream did not complete")
		}
		mu.Lock()
		defer mu.Unlock()
		return got
	}

	var wg sync.WaitGroup
	results := make([][]int, 2)
	for i, payload := range []int{1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(payload)
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{10, 11, 12, 13, 14}, results[0])
	assert.Equal(t, []int{20, 21, 22, 23, 24}, results[1])
}
