package bag

import (
	"context"
	"maps"
	"sync"
)

// Bag is a mutable key/value store threaded through command and event execution.
// It is safe for concurrent use. The zero value is ready to use.
type Bag struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns a bag seeded with values. The map is copied.
func New(values map[string]any) *Bag {
	b := &Bag{values: make(map[string]any, len(values))}
	maps.Copy(b.values, values)
	return b
}

// Get returns the value stored under key.
func (b *Bag) Get(key string) (any, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (b *Bag) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = make(map[string]any)
	}
	b.values[key] = value
}

// Delete removes key from the bag.
func (b *Bag) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
}

// Len returns the number of stored keys.
func (b *Bag) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

// Snapshot returns a copy of the stored values.
// A nil bag yields an empty, non-nil map.
func (b *Bag) Snapshot() map[string]any {
	if b == nil {
		return map[string]any{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.values)
}

// Clone returns an independent copy of the bag.
func (b *Bag) Clone() *Bag {
	return New(b.Snapshot())
}

// Value returns the value stored under key converted to T.
// Reports false when the key is missing or holds a different type.
func Value[T any](b *Bag, key string) (T, bool) {
	v, ok := b.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying b.
func WithContext(ctx context.Context, b *Bag) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext returns the bag carried by ctx, or nil.
func FromContext(ctx context.Context) *Bag {
	b, _ := ctx.Value(ctxKey{}).(*Bag)
	return b
}

// Ensure returns ctx unchanged when it already carries a bag, otherwise it
// attaches def.
func Ensure(ctx context.Context, def *Bag) context.Context {
	if FromContext(ctx) != nil {
		return ctx
	}
	return WithContext(ctx, def)
}
