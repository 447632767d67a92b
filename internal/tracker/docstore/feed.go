package docstore

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// ChangeType is the kind of change a document went through.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one document change inside a batch.
type Change struct {
	Type     ChangeType
	Document Document
}

// Batch groups the changes committed by one write, for one collection.
// Origin is the device id of the writer; it is empty for the initial
// snapshot sent to a new watcher.
type Batch struct {
	Tenant     string
	Collection string
	Origin     string
	Initial    bool
	Changes    []Change
}

// Watcher receives the batches of one tenant collection.
type Watcher struct {
	C <-chan Batch

	ch     chan Batch
	feed   *feed
	key    string
	closed atomic.Bool
}

// Close unregisters the watcher and closes C. Safe to call more than once.
func (w *Watcher) Close() {
	if w.closed.CompareAndSwap(false, true) {
		w.feed.remove(w)
	}
}

type feed struct {
	mu       sync.RWMutex
	watchers map[string]map[*Watcher]struct{}
	logger   *log.Logger
	onDrop   func()
}

func newFeed(logger *log.Logger, onDrop func()) *feed {
	return &feed{
		watchers: make(map[string]map[*Watcher]struct{}),
		logger:   logger,
		onDrop:   onDrop,
	}
}

func feedKey(tenant, collection string) string {
	return tenant + "/" + collection
}

func (f *feed) add(tenant, collection string, buffer int) *Watcher {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Batch, buffer)
	w := &Watcher{C: ch, ch: ch, feed: f, key: feedKey(tenant, collection)}

	f.mu.Lock()
	set, ok := f.watchers[w.key]
	if !ok {
		set = make(map[*Watcher]struct{})
		f.watchers[w.key] = set
	}
	set[w] = struct{}{}
	f.mu.Unlock()
	return w
}

func (f *feed) remove(w *Watcher) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if set, ok := f.watchers[w.key]; ok {
		if _, ok := set[w]; ok {
			delete(set, w)
			close(w.ch)
		}
		if len(set) == 0 {
			delete(f.watchers, w.key)
		}
	}
}

// publish delivers a batch without blocking. A watcher whose buffer is full
// misses the batch; it catches up on its next reconciliation.
func (f *feed) publish(b Batch) {
	if len(b.Changes) == 0 {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for w := range f.watchers[feedKey(b.Tenant, b.Collection)] {
		select {
		case w.ch <- b:
		default:
			f.logger.Warn("watcher buffer full, dropping batch", "tenant", b.Tenant, "collection", b.Collection)
			if f.onDrop != nil {
				f.onDrop()
			}
		}
	}
}

func (f *feed) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := 0
	for _, set := range f.watchers {
		n += len(set)
	}
	return n
}

func (f *feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, set := range f.watchers {
		for w := range set {
			w.closed.Store(true)
			close(w.ch)
		}
		delete(f.watchers, key)
	}
}
