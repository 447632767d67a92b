package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
)

// ErrSignedIn is returned by SignIn when a session is already active.
var ErrSignedIn = errors.New("session already signed in")

// ErrNotSignedIn is returned by operations that need a remote store.
var ErrNotSignedIn = errors.New("session not signed in")

// ErrSuperseded is returned by SignIn when SignOut was called before the
// sign-in finished. The session stays signed out.
var ErrSuperseded = errors.New("sign-in superseded by sign-out")

// Config configures a Session.
type Config struct {
	// Local is the on-device store. Required.
	Local LocalStore

	// Notifier receives the data-changed signal. Created when nil.
	Notifier *Notifier

	Clock  Clock
	Logger *log.Logger

	// PublishTimeout bounds each background remote write.
	PublishTimeout time.Duration

	// OnTransition is called after every state change, outside the lock.
	OnTransition func(from, to State)

	// OnStatus is called after every status change, outside the lock.
	OnStatus func(Status)
}

// Session owns the sync lifecycle of one device:
//
//	SignedOut -> Authenticating -> Reconciling -> Live -> SignedOut
//
// A reconciliation or subscription failure still ends in Live, with the
// status set to error. Only an authentication failure returns to SignedOut.
type Session struct {
	cfg       Config
	logger    *log.Logger
	notifier  *Notifier
	publisher *Publisher
	applier   *Applier

	mu      sync.Mutex
	state   State
	status  Status
	lastErr error
	userID  string
	store   remote.Store
	sub     remote.Subscription
	gen     uint64
}

// NewSession creates a signed-out session.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("sync")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	s := &Session{
		cfg:      cfg,
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
		state:    StateSignedOut,
		status:   StatusIdle,
	}
	s.applier = NewApplier(cfg.Local, cfg.Notifier, cfg.Logger.WithPrefix("subscription"))
	s.publisher = NewPublisher(PublisherConfig{
		Local:    cfg.Local,
		Notifier: cfg.Notifier,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger.WithPrefix("publish"),
		Timeout:  cfg.PublishTimeout,
		OnError:  s.fail,
	})
	return s
}

// Publisher returns the mutation entry point. It writes locally in every
// state and pushes remotely once the session knows its user.
func (s *Session) Publisher() *Publisher { return s.publisher }

// Notifier returns the data-changed signal.
func (s *Session) Notifier() *Notifier { return s.notifier }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the sync indicator.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the error behind the last error status, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// UserID returns the authenticated user, or "" when signed out.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SignIn authenticates against store, reconciles and goes live.
//
// An authentication failure is returned, leaving the session signed out.
// ErrSuperseded is returned when SignOut ran while SignIn was in flight.
// Reconciliation and subscription failures are absorbed into the error
// status; the session is Live when SignIn returns nil.
func (s *Session) SignIn(ctx context.Context, store remote.Store) error {
	s.mu.Lock()
	if s.state != StateSignedOut {
		s.mu.Unlock()
		return ErrSignedIn
	}
	gen := s.gen
	s.store = store
	s.state = StateAuthenticating
	statusChanged := s.status != StatusSyncing
	s.status = StatusSyncing
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Debug("state transition", "from", StateSignedOut, "to", StateAuthenticating)
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(StateSignedOut, StateAuthenticating)
	}
	if statusChanged && s.cfg.OnStatus != nil {
		s.cfg.OnStatus(StatusSyncing)
	}

	userID, err := store.Authenticate(ctx)
	if err != nil {
		err = fmt.Errorf("failed to authenticate: %w", err)
		s.logger.Warn("sign-in failed", "err", err)
		s.mu.Lock()
		current := s.gen == gen
		var statusChanged bool
		if current {
			s.store = nil
			s.state = StateSignedOut
			statusChanged = s.status != StatusError
			s.status = StatusError
			s.lastErr = err
		}
		s.mu.Unlock()
		if current {
			if s.cfg.OnTransition != nil {
				s.cfg.OnTransition(StateAuthenticating, StateSignedOut)
			}
			if statusChanged && s.cfg.OnStatus != nil {
				s.cfg.OnStatus(StatusError)
			}
		}
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.userID = userID
	// Armed under s.mu so a concurrent SignOut always clears it afterwards.
	s.publisher.SetTarget(store, userID)
	s.mu.Unlock()
	s.transition(gen, StateReconciling)

	var syncErr error
	reconciler := NewReconciler(s.cfg.Local, store, s.notifier, s.cfg.Clock, s.logger.WithPrefix("reconcile"))
	if _, err := reconciler.Reconcile(ctx, userID); err != nil {
		s.logger.Warn("reconciliation failed, going live anyway", "user", userID, "err", err)
		syncErr = err
	}
	if err := reconciler.ReconcileProfile(ctx, userID); err != nil {
		s.logger.Warn("profile sync failed", "user", userID, "err", err)
		if syncErr == nil {
			syncErr = err
		}
	}

	sub, err := store.Subscribe(ctx, userID, func(b remote.Batch) {
		s.applier.Apply(context.Background(), b)
	})
	if err != nil {
		s.logger.Warn("failed to open subscription", "user", userID, "err", err)
		if syncErr == nil {
			syncErr = fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return ErrSuperseded
	}
	s.sub = sub
	s.mu.Unlock()

	if sub != nil {
		go s.watchSubscription(gen, sub)
	}

	s.transition(gen, StateLive)
	status := StatusSynced
	if syncErr != nil {
		status = StatusError
	}
	if !s.setStatusFor(gen, status, syncErr) {
		return ErrSuperseded
	}
	s.logger.Info("session live", "user", userID, "status", status)
	return nil
}

// watchSubscription flags an unexpected end of the change channel.
func (s *Session) watchSubscription(gen uint64, sub remote.Subscription) {
	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}
	s.mu.Lock()
	current := s.gen == gen && s.sub == sub
	s.mu.Unlock()
	if !current {
		return
	}
	s.logger.Warn("subscription ended", "err", err)
	s.setStatus(StatusError, fmt.Errorf("subscription ended: %w", err))
}

// SignOut tears the session down from any state. The local store is left
// untouched. Background writes already started still complete.
func (s *Session) SignOut() {
	s.mu.Lock()
	if s.state == StateSignedOut {
		s.mu.Unlock()
		return
	}
	from := s.state
	sub := s.sub
	s.gen++
	s.state = StateSignedOut
	s.userID = ""
	s.store = nil
	s.sub = nil
	s.mu.Unlock()

	s.publisher.ClearTarget()
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Debug("subscription close", "err", err)
		}
	}
	s.setStatus(StatusIdle, nil)
	s.logger.Info("signed out")
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, StateSignedOut)
	}
}

// Reset deletes every remote document of the user and then clears the local
// store. A remote failure aborts before anything local is touched. Works
// signed out too, clearing only the local store.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	store, userID := s.store, s.userID
	s.mu.Unlock()

	if store != nil && userID != "" {
		s.setStatus(StatusSyncing, nil)
		if err := store.Reset(ctx, userID); err != nil {
			err = fmt.Errorf("failed to reset remote data: %w", err)
			s.setStatus(StatusError, err)
			return err
		}
	}
	if err := s.cfg.Local.Clear(ctx); err != nil {
		err = fmt.Errorf("failed to clear local data: %w", err)
		s.setStatus(StatusError, err)
		return err
	}
	s.notifier.Notify()
	if store != nil && userID != "" {
		s.setStatus(StatusSynced, nil)
	}
	s.logger.Info("all data reset", "user", userID)
	return nil
}

// Resync runs a fresh reconciliation while Live.
func (s *Session) Resync(ctx context.Context) (*ReconcileResult, error) {
	s.mu.Lock()
	store, userID, state := s.store, s.userID, s.state
	s.mu.Unlock()
	if state != StateLive || store == nil {
		return nil, ErrNotSignedIn
	}

	s.setStatus(StatusSyncing, nil)
	reconciler := NewReconciler(s.cfg.Local, store, s.notifier, s.cfg.Clock, s.logger.WithPrefix("reconcile"))
	result, err := reconciler.Reconcile(ctx, userID)
	if err != nil {
		s.setStatus(StatusError, err)
		return nil, err
	}
	s.setStatus(StatusSynced, nil)
	return result, nil
}

// Close signs out and waits for background writes.
func (s *Session) Close() {
	s.SignOut()
	s.publisher.Wait()
}

// fail records a background failure.
func (s *Session) fail(err error) {
	s.setStatus(StatusError, err)
}

func (s *Session) transition(gen uint64, to State) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("state transition", "from", from, "to", to)
	if s.cfg.OnTransition != nil && from != to {
		s.cfg.OnTransition(from, to)
	}
}

// setStatusFor sets the status only while generation gen is current.
func (s *Session) setStatusFor(gen uint64, status Status, err error) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	changed := s.status != status
	s.status = status
	s.lastErr = err
	s.mu.Unlock()

	if changed && s.cfg.OnStatus != nil {
		s.cfg.OnStatus(status)
	}
	return true
}

func (s *Session) setStatus(status Status, err error) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.lastErr = err
	s.mu.Unlock()

	if changed && s.cfg.OnStatus != nil {
		s.cfg.OnStatus(status)
	}
}
