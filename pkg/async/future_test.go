package async_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrymomot/collidor/pkg/async"
)

func TestFutureResolve(t *testing.T) {
	t.Parallel()

	f := async.NewFuture[int]()
	if f.IsComplete() {
		t.Fatal("Expected pending future")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Resolve(42)
	}()

	v, err := f.Await(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("Expected 42, got %d", v)
	}
	if !f.IsComplete() {
		t.Error("Expected future to be complete")
	}
}

func TestFutureSettlesOnce(t *testing.T) {
	t.Parallel()

	f := async.NewFuture[string]()
	if !f.Resolve("first") {
		t.Fatal("Expected first Resolve to settle the future")
	}
	if f.Resolve("second") {
		t.Error("Expected second Resolve to be ignored")
	}
	if f.Reject(errors.New("late")) {
		t.Error("Expected Reject after Resolve to be ignored")
	}

	v, err := f.Await(context.Background())
	if err != nil || v != "first" {
		t.Errorf("Expected (first, nil), got (%q, %v)", v, err)
	}
}

func TestFutureConcurrentSettle(t *testing.T) {
	t.Parallel()

	f := async.NewFuture[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				if f.Resolve(i) {
					wins.Add(1)
				}
				return
			}
			if f.Reject(errors.New("boom")) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins.Load())
	}
}

func TestFutureAwaitContext(t *testing.T) {
	t.Parallel()

	f := async.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if f.IsComplete() {
		t.Error("Expected future to stay pending after Await gave up")
	}
}

func TestFutureAwaitWithTimeout(t *testing.T) {
	t.Parallel()

	f := async.NewFuture[int]()
	_, err := f.AwaitWithTimeout(10 * time.Millisecond)
	if !errors.Is(err, async.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}

	f.Resolve(7)
	v, err := f.AwaitWithTimeout(10 * time.Millisecond)
	if err != nil || v != 7 {
		t.Errorf("Expected (7, nil), got (%d, %v)", v, err)
	}
}

func TestSettled(t *testing.T) {
	t.Parallel()

	expectedErr := errors.New("failed")
	f := async.Settled(0, expectedErr)
	if !f.IsComplete() {
		t.Fatal("Expected settled future")
	}
	if _, err := f.Await(context.Background()); err != expectedErr {
		t.Errorf("Expected %v, got %v", expectedErr, err)
	}

	r := async.Resolved("ok")
	if v, err := r.Await(context.Background()); err != nil || v != "ok" {
		t.Errorf("Expected (ok, nil), got (%q, %v)", v, err)
	}
}

func TestOnSettle(t *testing.T) {
	t.Parallel()

	t.Run("runs after settle", func(t *testing.T) {
		t.Parallel()

		f := async.NewFuture[int]()
		got := make(chan int, 1)
		f.OnSettle(func(v int, err error) { got <- v })
		f.Resolve(3)

		select {
		case v := <-got:
			if v != 3 {
				t.Errorf("Expected 3, got %d", v)
			}
		case <-time.After(time.Second):
			t.Fatal("callback not called")
		}
	})

	t.Run("runs immediately when already settled", func(t *testing.T) {
		t.Parallel()

		f := async.Rejected[int](errors.New("nope"))
		called := false
		f.OnSettle(func(_ int, err error) { called = err != nil })
		if !called {
			t.Error("Expected immediate callback with error")
		}
	})
}

func TestGo(t *testing.T) {
	t.Parallel()

	t.Run("returns function result", func(t *testing.T) {
		t.Parallel()

		f := async.Go(context.Background(), func(ctx context.Context) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 5, nil
		})
		v, err := f.Await(context.Background())
		if err != nil || v != 5 {
			t.Errorf("Expected (5, nil), got (%d, %v)", v, err)
		}
	})

	t.Run("skips work for done context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var called atomic.Bool
		f := async.Go(ctx, func(ctx context.Context) (int, error) {
			called.Store(true)
			return 1, nil
		})
		_, err := f.Await(context.Background())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if called.Load() {
			t.Error("Expected function not to run")
		}
	})
}

func TestMap(t *testing.T) {
	t.Parallel()

	f := async.NewFuture[any]()
	n := async.Map(f, func(v any) (int, error) {
		return v.(int) * 2, nil
	})
	f.Resolve(21)

	v, err := n.Await(context.Background())
	if err != nil || v != 42 {
		t.Errorf("Expected (42, nil), got (%d, %v)", v, err)
	}

	expectedErr := errors.New("rejected")
	r := async.Map(async.Rejected[any](expectedErr), func(v any) (int, error) {
		t.Error("mapper must not run for rejected futures")
		return 0, nil
	})
	if _, err := r.Await(context.Background()); err != expectedErr {
		t.Errorf("Expected %v, got %v", expectedErr, err)
	}
}

func TestAny(t *testing.T) {
	t.Parallel()

	if _, _, err := async.Any[int](context.Background()); !errors.Is(err, async.ErrNoFutures) {
		t.Errorf("Expected ErrNoFutures, got %v", err)
	}

	slow := async.Go(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(100 * time.Millisecond)
		return 1, nil
	})
	fast := async.Go(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 2, nil
	})

	idx, v, err := async.Any(context.Background(), slow, fast)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if idx != 1 || v != 2 {
		t.Errorf("Expected fast future (1, 2), got (%d, %d)", idx, v)
	}
}
