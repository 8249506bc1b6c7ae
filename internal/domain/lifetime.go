package domain

import "sync"

// Lifetime tracks destruction of an externally owned object and notifies
// observers exactly once when it is destroyed.
type Lifetime struct {
	mu        sync.Mutex
	destroyed bool
	nextID    uint64
	observers map[uint64]func()
}

// watch registers fn. It returns false without registering when the object
// is already destroyed.
func (l *Lifetime) watch(fn func()) (cancel func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.destroyed {
		return nil, false
	}
	if l.observers == nil {
		l.observers = make(map[uint64]func())
	}
	id := l.nextID
	l.nextID++
	l.observers[id] = fn

	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}, true
}

// Destroy marks the object destroyed and runs all observers. Observers run
// outside of the internal lock.
func (l *Lifetime) Destroy() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	observers := l.observers
	l.observers = nil
	l.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// Destroyed reports whether Destroy has been called.
func (l *Lifetime) Destroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// Watchable is implemented by objects whose destruction can be observed.
type Watchable interface {
	comparable
	Watch(fn func()) (cancel func(), ok bool)
}

// Ref is a non owning reference that clears itself when the referenced
// object is destroyed.
type Ref[T Watchable] struct {
	mu     sync.Mutex
	val    T
	gen    uint64
	cancel func()
}

// Set points the reference at v, replacing any previous target. Setting the
// zero value or an already destroyed object leaves the reference empty.
func (r *Ref[T]) Set(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()

	var zero T
	if v == zero {
		return
	}

	gen := r.gen
	cancel, ok := v.Watch(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gen == gen {
			r.resetLocked()
		}
	})
	if !ok {
		return
	}
	r.val = v
	r.cancel = cancel
}

// Get returns the referenced object or the zero value.
func (r *Ref[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.val
}

// Valid reports whether the reference points at a live object.
func (r *Ref[T]) Valid() bool {
	var zero T
	return r.Get() != zero
}

// Clear empties the reference.
func (r *Ref[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Ref[T]) resetLocked() {
	if r.cancel != nil {
		cancel := r.cancel
		r.cancel = nil
		// cancel takes the lifetime lock, never the ref lock.
		cancel()
	}
	var zero T
	r.val = zero
	r.gen++
}
