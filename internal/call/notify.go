package call

import (
	"slices"
	"sync"
)

// Notifier is a minimal named-event callback registry. Callbacks run on the
// emitting goroutine in registration order; there is no filtering and no
// delivery guarantee beyond that.
type Notifier[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string][]listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

// NewNotifier creates an empty notifier.
func NewNotifier[T any]() *Notifier[T] {
	return &Notifier[T]{listeners: map[string][]listener[T]{}}
}

// On registers fn for the named event and returns a disposer that removes
// exactly this registration.
func (n *Notifier[T]) On(event string, fn func(T)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		n.listeners = map[string][]listener[T]{}
	}
	n.nextID++
	id := n.nextID
	n.listeners[event] = append(n.listeners[event], listener[T]{id: id, fn: fn})
	return func() { n.off(event, id) }
}

func (n *Notifier[T]) off(event string, id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ls := n.listeners[event]
	n.listeners[event] = slices.DeleteFunc(ls, func(l listener[T]) bool {
		return l.id == id
	})
}

// Emit invokes every callback registered for the event. The listener list is
// copied first so callbacks may subscribe or dispose without deadlocking.
func (n *Notifier[T]) Emit(event string, v T) {
	n.mu.Lock()
	ls := slices.Clone(n.listeners[event])
	n.mu.Unlock()
	for _, l := range ls {
		l.fn(v)
	}
}
