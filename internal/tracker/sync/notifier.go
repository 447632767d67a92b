package sync

import "sync"

// Notifier broadcasts the "data changed, reload from the local store" signal.
// The signal carries no payload and coalesces: a slow listener sees at most
// one pending signal no matter how many changes happened meanwhile.
type Notifier struct {
	mu        sync.Mutex
	listeners map[int]chan struct{}
	next      int
}

// NewNotifier returns a Notifier with no listeners.
func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[int]chan struct{})}
}

// Subscribe registers a listener. The returned func unregisters it and
// closes the channel.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan struct{}, 1)
	n.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Notify signals every listener without blocking.
func (n *Notifier) Notify() {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
