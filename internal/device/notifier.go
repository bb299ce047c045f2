package device

import "sync"

// DeliveryFunc runs deliver on the execution context subscribers expect.
// Events reach the DeliveryFunc one at a time, in publish order.
type DeliveryFunc func(deliver func())

// Inline delivers on the publishing goroutine.
func Inline(deliver func()) { deliver() }

// Notifier fans events out to subscribers. Events are queued in publish order
// and delivered serially: a subscriber never sees two events concurrently and
// never sees them out of order, whichever goroutine publishes.
type Notifier[E any] struct {
	delivery DeliveryFunc

	mu       sync.Mutex
	subs     map[uint64]func(E)
	order    []uint64
	next     uint64
	queue    []E
	draining bool
}

// NewNotifier returns a notifier delivering through delivery (Inline when nil).
func NewNotifier[E any](delivery DeliveryFunc) *Notifier[E] {
	if delivery == nil {
		delivery = Inline
	}
	return &Notifier[E]{delivery: delivery, subs: make(map[uint64]func(E))}
}

// Subscribe registers fn and returns its idempotent unsubscribe function.
func (n *Notifier[E]) Subscribe(fn func(E)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := n.next
	n.subs[id] = fn
	n.order = append(n.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of current subscribers.
func (n *Notifier[E]) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Publish queues evt and delivers the queue unless another goroutine already is.
func (n *Notifier[E]) Publish(evt E) {
	n.enqueue(evt)
	n.flush()
}

// enqueue fixes evt's position without delivering it. Callers holding their own
// lock enqueue under it and flush after releasing it.
func (n *Notifier[E]) enqueue(evt E) {
	n.mu.Lock()
	n.queue = append(n.queue, evt)
	n.mu.Unlock()
}

func (n *Notifier[E]) flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.queue) > 0 {
		evt := n.queue[0]
		n.queue = n.queue[1:]
		handlers := make([]func(E), 0, len(n.order))
		for _, id := range n.order {
			handlers = append(handlers, n.subs[id])
		}
		n.mu.Unlock()

		n.delivery(func() {
			for _, fn := range handlers {
				fn(evt)
			}
		})

		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}
