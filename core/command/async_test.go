package command_test

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/collidor/core/command"
	"github.com/dmitrymomot/collidor/pkg/async"
)

func collect(t *testing.T, seq iter.Seq2[any, error]) ([]any, error) {
	t.Helper()
	var values []any
	for v, err := range seq {
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	return values, nil
}

func TestAsyncDispatcherExecute(t *testing.T) {
	t.Parallel()

	t.Run("lifts synchronous handlers", func(t *testing.T) {
		t.Parallel()

		d := command.NewAsyncDispatcher()
		d.Register("Sum", sumHandler)

		f := d.Execute(context.Background(), command.New("Sum", SumArgs{A: 1, B: 2}))
		assert.True(t, f.IsComplete())
		v, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	})

	t.Run("awaits asynchronous handlers", func(t *testing.T) {
		t.Parallel()

		d := command.NewAsyncDispatcher()
		d.RegisterAsync("Slow", func(ctx context.Context, cmd command.Command) *async.Future[any] {
			return async.Go(ctx, func(context.Context) (any, error) {
				time.Sleep(10 * time.Millisecond)
				return cmd.Payload, nil
			})
		})

		v, err := d.Execute(context.Background(), command.New("Slow", "later")).Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "later", v)
	})

	t.Run("rejects unknown commands", func(t *testing.T) {
		t.Parallel()

		d := command.NewAsyncDispatcher()
		_, err := d.Execute(context.Background(), command.New("Missing", nil)).Await(context.Background())
		assert.ErrorIs(t, err, command.ErrNotFound)
	})

	t.Run("handler errors are returned unchanged", func(t *testing.T) {
		t.Parallel()

		expected := errors.New("nope")
		d := command.NewAsyncDispatcher()
		d.Register("Fail", func(context.Context, command.Command) (any, error) { return nil, expected })

		_, err := d.Execute(context.Background(), command.New("Fail", nil)).Await(context.Background())
		assert.Same(t, expected, err)
	})

	t.Run("interceptor owns the call", func(t *testing.T) {
		t.Parallel()

		d := command.NewAsyncDispatcher(command.WithPlugin(asyncAddPlugin{}))
		d.Register("Echo", func(_ context.Context, cmd command.Command) (any, error) {
			return cmd.Payload, nil
		})

		v, err := d.Execute(context.Background(), command.New("Echo", 50)).Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 150, v)
	})
}

type asyncAddPlugin struct{}

func (asyncAddPlugin) InterceptAsync(ctx context.Context, cmd command.Command, local command.AsyncHandler) *async.Future[any] {
	if local == nil {
		return async.Rejected[any](command.ErrNotFound)
	}
	return async.Map(local(ctx, cmd), func(v any) (any, error) { return v.(int) + 100, nil })
}

func TestStreamAsyncNativeSequence(t *testing.T) {
	t.Parallel()

	t.Run("iterates a fresh sequence per call", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		d := command.NewAsyncDispatcher()
		d.RegisterStreamAsync("Letters", func(context.Context, command.Command) iter.Seq2[any, error] {
			calls.Add(1)
			return func(yield func(any, error) bool) {
				for _, s := range []string{"a", "b", "c"} {
					if !yield(s, nil) {
						return
					}
				}
			}
		})

		for range 2 {
			values, err := collect(t, d.StreamAsync(context.Background(), command.NewStream("Letters", nil)))
			require.NoError(t, err)
			assert.Equal(t, []any{"a", "b", "c"}, values)
		}
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("error terminates the sequence", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		d := command.NewAsyncDispatcher()
		d.RegisterStreamAsync("Broken", func(context.Context, command.Command) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				if !yield(1, nil) {
					return
				}
				if !yield(nil, boom) {
					return
				}
				yield(2, nil)
			}
		})

		values, err := collect(t, d.StreamAsync(context.Background(), command.NewStream("Broken", nil)))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []any{1}, values)
	})

	t.Run("early break releases the producer", func(t *testing.T) {
		t.Parallel()

		var released atomic.Bool
		d := command.NewAsyncDispatcher()
		d.RegisterStreamAsync("Endless", func(context.Context, command.Command) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				defer released.Store(true)
				for i := 0; ; i++ {
					if !yield(i, nil) {
						return
					}
				}
			}
		})

		count := 0
		for range d.StreamAsync(context.Background(), command.NewStream("Endless", nil)) {
			count++
			if count == 3 {
				break
			}
		}
		assert.Equal(t, 3, count)
		assert.True(t, released.Load())
	})
}

func TestStreamAsyncAdaptsCallbackStreams(t *testing.T) {
	t.Parallel()

	t.Run("yields every item in order", func(t *testing.T) {
		t.Parallel()

		d := command.NewAsyncDispatcher(command.WithQueueSize(1))
		d.RegisterStream("Count", countHandler)

		values, err := collect(t, d.StreamAsync(context.Background(), command.NewStream("Count", 100)))
		require.NoError(t, err)
		require.Len(t, values, 100)
		for i, v := range values {
			assert.Equal(t, i, v)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		t.Parallel()

		d := command.NewAsyncDispatcher()
		d.RegisterStream("Count", countHandler)

		values, err := collect(t, d.StreamAsync(context.Background(), command.NewStream("Count", 0)))
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("error ends the sequence", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		d := command.NewAsyncDispatcher()
		d.RegisterStream("Failing", func(_ context.Context, _ command.Command, next command.Next) command.Teardown {
			next(1, false, nil)
			next(nil, false, boom)
			return nil
		})

		values, err := collect(t, d.StreamAsync(context.Background(), command.NewStream("Failing", nil)))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []any{1}, values)
	})

	t.Run("early break runs teardown once", func(t *testing.T) {
		t.Parallel()

		var teardowns atomic.Int32
		d := command.NewAsyncDispatcher()
		d.RegisterStream("Ticks", tickHandler(&teardowns))

		count := 0
		for _, err := range d.StreamAsync(context.Background(), command.NewStream("Ticks", nil)) {
			require.NoError(t, err)
			count++
			if count == 3 {
				break
			}
		}
		require.Eventually(t, func() bool { return teardowns.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, int32(1), teardowns.Load())
	})

	t.Run("unknown command yields ErrNotFound", func(t *testing.T) {
		t.Parallel()

		d := command.NewAsyncDispatcher()
		_, err := collect(t, d.StreamAsync(context.Background(), command.NewStream("Missing", nil)))
		assert.ErrorIs(t, err, command.ErrNotFound)
	})

	t.Run("caller cancellation ends the sequence", func(t *testing.T) {
		t.Parallel()

		var teardowns atomic.Int32
		d := command.NewAsyncDispatcher()
		d.RegisterStream("Ticks", tickHandler(&teardowns))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := collect(t, d.StreamAsync(ctx, command.NewStream("Ticks", nil)))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		require.Eventually(t, func() bool { return teardowns.Load() == 1 }, time.Second, time.Millisecond)
	})
}

func TestSequenceHandlerServesCallbackStream(t *testing.T) {
	t.Parallel()

	d := command.NewAsyncDispatcher()
	d.RegisterStreamAsync("Letters", func(context.Context, command.Command) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for _, s := range []string{"x", "y"} {
				if !yield(s, nil) {
					return
				}
			}
		}
	})
	require.NotNil(t, d.StreamHandlerFor("Letters"))

	got := make(chan any, 4)
	done := make(chan struct{})
	_, err := d.Stream(context.Background(), command.NewStream("Letters", nil), func(v any, isDone bool, err error) {
		assert.NoError(t, err)
		if v != nil {
			got <- v
		}
		if isDone {
			close(done)
		}
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not complete")
	}
	close(got)

	var values []any
	for v := range got {
		values = append(values, v)
	}
	assert.Equal(t, []any{"x", "y"}, values)
}

func TestSequenceHandlerWinsOverCallbackHandler(t *testing.T) {
	t.Parallel()

	d := command.NewAsyncDispatcher()
	d.RegisterStream("Source", func(_ context.Context, _ command.Command, next command.Next) command.Teardown {
		next("callback", true, nil)
		return nil
	})
	d.RegisterStreamAsync("Source", func(context.Context, command.Command) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) { yield("native", nil) }
	})

	values, err := collect(t, d.StreamAsync(context.Background(), command.NewStream("Source", nil)))
	require.NoError(t, err)
	assert.Equal(t, []any{"native"}, values)

	got := make(chan any, 2)
	_, err = d.Stream(context.Background(), command.NewStream("Source", nil), func(v any, _ bool, _ error) {
		if v != nil {
			got <- v
		}
	})
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, "native", v)
	case <-time.After(time.Second):
		t.Fatal("stream produced nothing")
	}
}

type registrationRecorder struct {
	unary   atomic.Int32
	streams atomic.Int32
}

func (r *registrationRecorder) OnRegister(string)       { r.unary.Add(1) }
func (r *registrationRecorder) OnRegisterStream(string) { r.streams.Add(1) }

func TestAsyncDispatcherRegistrationHooks(t *testing.T) {
	t.Parallel()

	rec := &registrationRecorder{}
	d := command.NewAsyncDispatcher(command.WithPlugin(rec))
	d.Register("A", sumHandler)
	d.RegisterAsync("B", func(context.Context, command.Command) *async.Future[any] { return nil })
	d.RegisterStream("C", countHandler)
	d.RegisterStreamAsync("D", func(context.Context, command.Command) iter.Seq2[any, error] { return nil })

	assert.Equal(t, int32(2), rec.unary.Load())
	assert.Equal(t, int32(2), rec.streams.Load())

	v, err := d.Execute(context.Background(), command.New("B", nil)).Await(context.Background())
	require.NoError(t, err, "nil future resolves to nil")
	assert.Nil(t, v)
}
