package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/local"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

type transitionLog struct {
	mu    stdsync.Mutex
	steps []State
}

func (l *transitionLog) record(_, to State) {
	l.mu.Lock()
	l.steps = append(l.steps, to)
	l.mu.Unlock()
}

func (l *transitionLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.steps...)
}

func newTestSession(t *testing.T, store *local.Store, clock Clock, log *transitionLog) *Session {
	t.Helper()

	cfg := Config{Local: store, Clock: clock, Logger: quietLogger()}
	if log != nil {
		cfg.OnTransition = log.record
	}
	s := NewSession(cfg)
	t.Cleanup(s.Close)
	return s
}

func TestSession_SignInGoesLive(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	store := setupLocal(t)
	seedLocal(t, store, map[string]*schema.Record{"2024-06-01": record(1000, "steps", 1)}, schema.Metadata{})

	var log transitionLog
	s := newTestSession(t, store, fixedClock(5000), &log)
	if s.State() != StateSignedOut || s.Status() != StatusIdle {
		t.Fatalf("new session = %v/%v, want signed-out/idle", s.State(), s.Status())
	}

	if err := s.SignIn(ctx, remote.NewDirect(docs, "alice", "A")); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	if s.State() != StateLive || s.Status() != StatusSynced {
		t.Errorf("after SignIn = %v/%v, want live/synced", s.State(), s.Status())
	}
	if s.UserID() != "alice" || !s.Publisher().Active() {
		t.Errorf("UserID = %q, publisher active = %v", s.UserID(), s.Publisher().Active())
	}

	want := []State{StateAuthenticating, StateReconciling, StateLive}
	got := log.get()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}

	if err := s.SignIn(ctx, remote.NewDirect(docs, "alice", "A")); !errors.Is(err, ErrSignedIn) {
		t.Errorf("second SignIn() error = %v, want ErrSignedIn", err)
	}

	remoteSnap, err := remote.NewDirect(docs, "alice", "B").Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if remoteSnap.Record("2024-06-01") == nil {
		t.Error("local record was not reconciled to remote")
	}
}

func TestSession_AuthFailure(t *testing.T) {
	docs := setupDocstore(t)
	s := newTestSession(t, setupLocal(t), nil, nil)

	err := s.SignIn(context.Background(), remote.NewDirect(docs, "", "A"))
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("SignIn() error = %v, want ErrUnauthorized", err)
	}
	if s.State() != StateSignedOut || s.Status() != StatusError {
		t.Errorf("after failed SignIn = %v/%v, want signed-out/error", s.State(), s.Status())
	}
	if s.Publisher().Active() {
		t.Error("publisher should stay inactive after failed sign-in")
	}
}

func TestSession_ReconcileFailureStillLive(t *testing.T) {
	docs := setupDocstore(t)
	flaky := newFlakyStore(remote.NewDirect(docs, "alice", "A"))
	failWith(&flaky.fetchErr, errNetwork)

	s := newTestSession(t, setupLocal(t), nil, nil)
	if err := s.SignIn(context.Background(), flaky); err != nil {
		t.Fatalf("SignIn() error = %v, want nil", err)
	}
	if s.State() != StateLive || s.Status() != StatusError {
		t.Errorf("state = %v/%v, want live/error", s.State(), s.Status())
	}
	if !errors.Is(s.LastError(), errNetwork) {
		t.Errorf("LastError() = %v, want %v", s.LastError(), errNetwork)
	}
}

func TestSession_SubscribeFailureStillLive(t *testing.T) {
	docs := setupDocstore(t)
	flaky := newFlakyStore(remote.NewDirect(docs, "alice", "A"))
	failWith(&flaky.subscribeErr, errNetwork)

	s := newTestSession(t, setupLocal(t), nil, nil)
	if err := s.SignIn(context.Background(), flaky); err != nil {
		t.Fatalf("SignIn() error = %v, want nil", err)
	}
	if s.State() != StateLive || s.Status() != StatusError {
		t.Errorf("state = %v/%v, want live/error", s.State(), s.Status())
	}
}

func TestSession_LiveChangesReachOtherDevice(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	storeA, storeB := setupLocal(t), setupLocal(t)
	a := newTestSession(t, storeA, fixedClock(10_000), nil)
	b := newTestSession(t, storeB, fixedClock(10_000), nil)

	if err := a.SignIn(ctx, remote.NewDirect(docs, "alice", "A")); err != nil {
		t.Fatalf("SignIn(A) failed: %v", err)
	}
	if err := b.SignIn(ctx, remote.NewDirect(docs, "alice", "B")); err != nil {
		t.Fatalf("SignIn(B) failed: %v", err)
	}

	signal, unsubscribe := b.Notifier().Subscribe()
	defer unsubscribe()

	if _, err := a.Publisher().UpdateRecord(ctx, "2024-06-03", func(rec *schema.Record) error {
		rec.Set("steps", 9000)
		return nil
	}); err != nil {
		t.Fatalf("UpdateRecord() failed: %v", err)
	}

	select {
	case <-signal:
	case <-time.After(3 * time.Second):
		t.Fatal("B never received a data-changed signal")
	}
	if rec := storeB.Load(ctx).Record("2024-06-03"); rec == nil || rec.Int("steps") != 9000 {
		t.Errorf("B record = %+v, want steps 9000", rec)
	}
}

func TestSession_NoCallbacksAfterSignOut(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	storeB := setupLocal(t)
	b := newTestSession(t, storeB, nil, nil)

	if err := b.SignIn(ctx, remote.NewDirect(docs, "alice", "B")); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	b.SignOut()
	b.SignOut()

	if b.State() != StateSignedOut || b.Status() != StatusIdle || b.Publisher().Active() {
		t.Errorf("after SignOut = %v/%v active=%v", b.State(), b.Status(), b.Publisher().Active())
	}
	if n := docs.WatcherCount(); n != 0 {
		t.Errorf("WatcherCount() = %d after SignOut, want 0", n)
	}

	writer := remote.NewDirect(docs, "alice", "A")
	if err := writer.PutRecords(ctx, "alice", map[string]*schema.Record{"2024-06-04": record(99, "steps", 1)}); err != nil {
		t.Fatalf("PutRecords() failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if rec := storeB.Load(ctx).Record("2024-06-04"); rec != nil {
		t.Errorf("signed-out device applied a remote change: %+v", rec)
	}
}

func TestSession_SignOutKeepsLocalData(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	store := setupLocal(t)
	s := newTestSession(t, store, nil, nil)

	if err := s.SignIn(ctx, remote.NewDirect(docs, "alice", "A")); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	if _, err := s.Publisher().PublishRecord(ctx, "2024-06-01", record(0, "steps", 3)); err != nil {
		t.Fatalf("PublishRecord() failed: %v", err)
	}
	s.SignOut()

	if rec := store.Load(ctx).Record("2024-06-01"); rec == nil || rec.Int("steps") != 3 {
		t.Errorf("local record after sign-out = %+v", rec)
	}
	// Still writable locally while signed out.
	if _, err := s.Publisher().PublishRecord(ctx, "2024-06-02", record(0, "steps", 4)); err != nil {
		t.Fatalf("PublishRecord() while signed out failed: %v", err)
	}
	if rec := store.Load(ctx).Record("2024-06-02"); rec == nil {
		t.Error("signed-out write not stored locally")
	}
}

func TestSession_Reset(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	store := setupLocal(t)
	seedLocal(t, store, map[string]*schema.Record{"2024-06-01": record(1000, "steps", 1)}, schema.Metadata{})

	flaky := newFlakyStore(remote.NewDirect(docs, "alice", "A"))
	s := newTestSession(t, store, nil, nil)
	if err := s.SignIn(ctx, flaky); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}

	failWith(&flaky.resetErr, errNetwork)
	if err := s.Reset(ctx); !errors.Is(err, errNetwork) {
		t.Fatalf("Reset() error = %v, want %v", err, errNetwork)
	}
	if len(store.Load(ctx).Records) != 1 {
		t.Error("local data cleared although remote reset failed")
	}

	flaky.resetErr.Store(nil)
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if n := len(store.Load(ctx).Records); n != 0 {
		t.Errorf("local records after reset = %d, want 0", n)
	}
	snap, err := remote.NewDirect(docs, "alice", "B").Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if len(snap.Records) != 0 || !snap.Metadata.IsZero() {
		t.Errorf("remote after reset = %+v, want empty", snap)
	}
}

func TestSession_Resync(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	s := newTestSession(t, setupLocal(t), nil, nil)

	if _, err := s.Resync(ctx); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("Resync() while signed out error = %v, want ErrNotSignedIn", err)
	}
	if err := s.SignIn(ctx, remote.NewDirect(docs, "alice", "A")); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	result, err := s.Resync(ctx)
	if err != nil {
		t.Fatalf("Resync() failed: %v", err)
	}
	if result.Pushed != 0 || result.MetaPushed {
		t.Errorf("Resync() right after SignIn = %+v, want no-op", result)
	}
}

// gatedStore blocks Authenticate or Fetch until released.
type gatedStore struct {
	remote.Store
	gateAuth  bool
	gateFetch bool
	entered   chan struct{}
	release   chan struct{}
}

func newGatedStore(inner remote.Store, auth, fetch bool) *gatedStore {
	return &gatedStore{
		Store:     inner,
		gateAuth:  auth,
		gateFetch: fetch,
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
}

func (g *gatedStore) wait() {
	g.entered <- struct{}{}
	<-g.release
}

func (g *gatedStore) Authenticate(ctx context.Context) (string, error) {
	if g.gateAuth {
		g.wait()
	}
	return g.Store.Authenticate(ctx)
}

func (g *gatedStore) Fetch(ctx context.Context, userID string) (schema.Snapshot, error) {
	if g.gateFetch {
		g.wait()
	}
	return g.Store.Fetch(ctx, userID)
}

func TestSession_SignOutDuringSignIn(t *testing.T) {
	tests := []struct {
		name      string
		gateAuth  bool
		gateFetch bool
		during    State
	}{
		{name: "authenticating", gateAuth: true, during: StateAuthenticating},
		{name: "reconciling", gateFetch: true, during: StateReconciling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := setupDocstore(t)
			s := newTestSession(t, setupLocal(t), fixedClock(5000), nil)
			gated := newGatedStore(remote.NewDirect(docs, "alice", "A"), tt.gateAuth, tt.gateFetch)

			done := make(chan error, 1)
			go func() { done <- s.SignIn(context.Background(), gated) }()

			select {
			case <-gated.entered:
			case <-time.After(3 * time.Second):
				t.Fatal("SignIn() never reached the remote store")
			}
			if s.State() != tt.during {
				t.Fatalf("State() = %v mid sign-in, want %v", s.State(), tt.during)
			}

			s.SignOut()
			if s.State() != StateSignedOut || s.Status() != StatusIdle {
				t.Errorf("after SignOut = %v/%v, want signed-out/idle", s.State(), s.Status())
			}
			close(gated.release)

			select {
			case err := <-done:
				if !errors.Is(err, ErrSuperseded) {
					t.Errorf("SignIn() error = %v, want ErrSuperseded", err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("SignIn() did not return")
			}

			if s.State() != StateSignedOut {
				t.Errorf("State() = %v, want signed-out", s.State())
			}
			if s.Status() != StatusIdle {
				t.Errorf("Status() = %v, want idle", s.Status())
			}
			if s.Publisher().Active() {
				t.Error("publisher still pushing after sign-out")
			}
			eventually(t, "subscription closed", func() bool { return docs.WatcherCount() == 0 })
		})
	}
}
