package channel

import "sync"

// Mailbox is an unbounded FIFO drained by a single goroutine. Push never blocks,
// so slow consumers cannot stall the transport delivering to them.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// NewMailbox starts a goroutine calling fn for every pushed item, in order.
func NewMailbox[T any](fn func(T)) *Mailbox[T] {
	m := &Mailbox[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.run(fn)
	return m
}

// Push enqueues v. Reports false once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Close stops the mailbox. Items still queued are dropped.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.items = nil
	m.mu.Unlock()
	close(m.done)
}

// Done is closed after Close.
func (m *Mailbox[T]) Done() <-chan struct{} { return m.done }

func (m *Mailbox[T]) run(fn func(T)) {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}

		for {
			m.mu.Lock()
			if m.closed || len(m.items) == 0 {
				m.mu.Unlock()
				break
			}
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()

			fn(v)
		}
	}
}
