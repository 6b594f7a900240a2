// Package event provides typed observer registration. Subscribing returns a
// Disposer; disposing it removes exactly that observer.
package event

import "sync"

// Disposer unregisters an observer. Calling it more than once is harmless.
type Disposer func()

// Hub fans one event out to every subscribed observer.
type Hub[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	observers []observer[T]
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns its disposer.
func (h *Hub[T]) Subscribe(fn func(T)) Disposer {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.observers = append(h.observers, observer[T]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, o := range h.observers {
		if o.id == id {
			h.observers = append(h.observers[:i:i], h.observers[i+1:]...)
			return
		}
	}
}

// Emit delivers v once to each observer registered at the time of the call,
// in subscription order. Observers run on the caller's goroutine.
func (h *Hub[T]) Emit(v T) {
	h.mu.Lock()
	snapshot := make([]observer[T], len(h.observers))
	copy(snapshot, h.observers)
	h.mu.Unlock()

	for _, o := range snapshot {
		o.fn(v)
	}
}

// Len returns the number of registered observers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Disposers collects disposers so they can be released together.
type Disposers []Disposer

func (d *Disposers) Add(disposer Disposer) { *d = append(*d, disposer) }

// Dispose releases every collected disposer, most recent first, and empties
// the collection.
func (d *Disposers) Dispose() {
	for i := len(*d) - 1; i >= 0; i-- {
		if fn := (*d)[i]; fn != nil {
			fn()
		}
	}
	*d = nil
}
