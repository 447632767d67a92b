package remote

import (
	"context"
	"sync"
)

// subscription runs a delivery loop on its own goroutine and guarantees that
// no callback runs once Close has returned.
type subscription struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// startSubscription runs loop until ctx is cancelled or loop returns.
// loop must check ctx before every callback.
func startSubscription(parent context.Context, loop func(ctx context.Context) error, cleanup func()) *subscription {
	ctx, cancel := context.WithCancel(parent)
	s := &subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		if cleanup != nil {
			defer cleanup()
		}
		err := loop(ctx)
		if ctx.Err() == nil && err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
