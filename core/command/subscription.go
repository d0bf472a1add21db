package command

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscription states. Transitions only move forward:
// active -> completing -> tornDown, or active -> tornDown.
const (
	stateActive int32 = iota
	stateCompleting
	stateTornDown
)

// subscription guards one stream invocation. It latches the consumer after the
// first terminal item and runs the producer teardown exactly once, whichever of
// natural completion, the cancel func or context cancellation comes first.
type subscription struct {
	state atomic.Int32

	deliverMu sync.Mutex
	consumer  Next

	mu       sync.Mutex
	released bool
	teardown Teardown
	stop     func() bool
	cancel   context.CancelFunc
}

func newSubscription(consumer Next, cancel context.CancelFunc) *subscription {
	return &subscription{consumer: consumer, cancel: cancel}
}

// deliver forwards one item to the consumer in call order.
func (s *subscription) deliver(v any, done bool, err error) {
	terminal := done || err != nil

	s.deliverMu.Lock()
	if s.state.Load() != stateActive {
		s.deliverMu.Unlock()
		return
	}
	if terminal {
		s.state.Store(stateCompleting)
	}
	s.consumer(v, done, err)
	s.deliverMu.Unlock()

	if terminal {
		s.release()
	}
}

// install records the producer teardown. A subscription that already ended
// runs it immediately.
func (s *subscription) install(td Teardown) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		if td != nil {
			td()
		}
		return
	}
	s.teardown = td
	s.mu.Unlock()
}

// bind releases the subscription when ctx is done.
func (s *subscription) bind(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.release)

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		stop()
		return
	}
	s.stop = stop
	s.mu.Unlock()
}

// release tears the subscription down. Safe to call any number of times,
// including from the consumer. It does not take deliverMu, so a delivery
// already in progress may finish after release returns.
func (s *subscription) release() {
	for {
		cur := s.state.Load()
		if cur == stateTornDown {
			return
		}
		if s.state.CompareAndSwap(cur, stateTornDown) {
			break
		}
	}

	s.mu.Lock()
	s.released = true
	td, stop := s.teardown, s.stop
	s.teardown, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if td != nil {
		td()
	}
}
