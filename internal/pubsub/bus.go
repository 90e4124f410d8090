// Package pubsub provides a typed publish/subscribe bus. Every subscription returns a disposer that
// removes it, so handlers registered across reconnects do not pile up.
package pubsub

import "sync"

// Handler receives published events in publish order.
type Handler[T any] func(event T)

// Dispose removes a subscription. Calling it more than once is a no-op.
type Dispose func()

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Bus delivers every published event to all current subscribers synchronously, in the publisher's
// goroutine and in subscription order. Handlers must not block.
type Bus[T any] struct {
	lock   sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

func New[T any]() *Bus[T] {
	return &Bus[T]{
		subs: make([]subscription[T], 0),
	}
}

func (b *Bus[T]) Subscribe(handler Handler[T]) Dispose {
	b.lock.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription[T]{id: id, handler: handler})
	b.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish calls the handlers outside the lock, so a handler may dispose itself or subscribe others.
func (b *Bus[T]) Publish(event T) {
	b.lock.RLock()
	handlers := make([]Handler[T], 0, len(b.subs))
	for _, sub := range b.subs {
		handlers = append(handlers, sub.handler)
	}
	b.lock.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Len is the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return len(b.subs)
}
