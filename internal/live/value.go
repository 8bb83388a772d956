// Package live provides a hot observable value: it always holds a current
// value, replays it to every new subscriber and pushes each later change to
// all subscribers in the same order.
package live

import (
	"context"
	"sort"
	"sync"
)

// Value is a "current value + subscribe" cell. The zero value is not usable;
// create one with New.
//
// Subscriber callbacks run on the goroutine that changed the value, one at a
// time. A callback must not call Set, Update, Emit or Subscribe on the same
// Value.
type Value[T any] struct {
	emitMu sync.Mutex // serializes deliveries so every subscriber sees one order

	mu     sync.Mutex
	cur    T
	subs   map[uint64]func(T)
	nextID uint64
	closed bool

	closedCh chan struct{}
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	if v == nil {
		var zero T
		return zero
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set replaces the current value and emits it.
func (v *Value[T]) Set(next T) {
	v.Update(func(cur *T) { *cur = next })
}

// Update mutates the current value in place and emits the result.
func (v *Value[T]) Update(fn func(cur *T)) {
	if v == nil {
		return
	}
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	fn(&v.cur)
	val, subs := v.cur, v.subscribersLocked()
	v.mu.Unlock()

	for _, fn := range subs {
		fn(val)
	}
}

// Emit re-publishes the current value without changing it.
func (v *Value[T]) Emit() {
	v.Update(func(*T) {})
}

// Subscribe registers fn and immediately calls it with the current value.
// The returned func removes the subscription; it is safe to call more than once.
// Subscribing to a closed Value replays the last value and registers nothing.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	if v == nil || fn == nil {
		return func() {}
	}
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	val := v.cur
	if v.closed {
		v.mu.Unlock()
		fn(val)
		return func() {}
	}
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.mu.Unlock()

	fn(val)

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// Watch delivers values on a channel until ctx is done or the Value is
// closed. A slow reader loses intermediate values, never the latest one.
func (v *Value[T]) Watch(ctx context.Context, buffer int) <-chan T {
	if buffer <= 0 {
		buffer = 1
	}
	out := make(chan T, buffer)
	if v == nil {
		close(out)
		return out
	}

	var (
		mu   sync.Mutex
		done bool
	)
	push := func(val T) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case out <- val:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
		select {
		case out <- val:
		default:
		}
	}
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		if !done {
			done = true
			close(out)
		}
	}

	unsubscribe := v.Subscribe(push)
	closedCh := v.closedSignal()
	go func() {
		select {
		case <-ctx.Done():
		case <-closedCh:
		}
		unsubscribe()
		stop()
	}()
	return out
}

// Close drops every subscriber. Later changes are kept but emitted to no one.
func (v *Value[T]) Close() {
	if v == nil {
		return
	}
	v.emitMu.Lock()
	defer v.emitMu.Unlock()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.subs = make(map[uint64]func(T))
	if v.closedCh != nil {
		close(v.closedCh)
	}
}

// Closed reports whether Close was called.
func (v *Value[T]) Closed() bool {
	if v == nil {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Subscribers returns the number of active subscriptions.
func (v *Value[T]) Subscribers() int {
	if v == nil {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

func (v *Value[T]) subscribersLocked() []func(T) {
	if v.closed || len(v.subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(v.subs))
	for id := range v.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, v.subs[id])
	}
	return out
}

func (v *Value[T]) closedSignal() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closedCh == nil {
		v.closedCh = make(chan struct{})
		if v.closed {
			close(v.closedCh)
		}
	}
	return v.closedCh
}
