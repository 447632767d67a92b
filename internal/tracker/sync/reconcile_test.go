package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

func TestReconcile_TwoDevicesConverge(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	localA, localB := setupLocal(t), setupLocal(t)

	// A edited steps at t=1000 while offline; B set weight at t=2000.
	seedLocal(t, localA, map[string]*schema.Record{
		"2024-06-01": record(1000, "steps", 5000),
		"2024-06-02": record(1500, "water", 8),
	}, schema.Metadata{})
	seedLocal(t, localB, map[string]*schema.Record{
		"2024-06-01": record(2000, "weight", 80),
	}, schema.Metadata{})

	reconA := NewReconciler(localA, remote.NewDirect(docs, "alice", "A"), nil, fixedClock(5000), quietLogger())
	reconB := NewReconciler(localB, remote.NewDirect(docs, "alice", "B"), nil, fixedClock(5000), quietLogger())

	if _, err := reconA.Reconcile(ctx, "alice"); err != nil {
		t.Fatalf("Reconcile(A) failed: %v", err)
	}
	if _, err := reconB.Reconcile(ctx, "alice"); err != nil {
		t.Fatalf("Reconcile(B) failed: %v", err)
	}
	if _, err := reconA.Reconcile(ctx, "alice"); err != nil {
		t.Fatalf("second Reconcile(A) failed: %v", err)
	}

	snapA, snapB := localA.Load(ctx), localB.Load(ctx)
	if !snapA.Equal(snapB) {
		t.Fatalf("devices diverged:\nA = %+v\nB = %+v", snapA, snapB)
	}

	day := snapA.Record("2024-06-01")
	if day == nil {
		t.Fatal("2024-06-01 missing after reconcile")
	}
	if day.LastModified != 2000 || day.Int("weight") != 80 {
		t.Errorf("2024-06-01 = %+v, want B's record", day)
	}
	// Whole-record LWW: A's older steps value is discarded.
	if day.Has("steps") {
		t.Errorf("2024-06-01 still has steps = %v", day.Int("steps"))
	}
	if rec := snapB.Record("2024-06-02"); rec == nil || rec.Int("water") != 8 {
		t.Errorf("2024-06-02 on B = %+v, want A's record", rec)
	}

	remoteSnap, err := remote.NewDirect(docs, "alice", "C").Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	remoteSnap.Normalize()
	if !remoteSnap.Equal(snapA) {
		t.Errorf("remote = %+v, want %+v", remoteSnap, snapA)
	}
}

func TestReconcile_SecondRunIsNoop(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	store := setupLocal(t)
	seedLocal(t, store, map[string]*schema.Record{
		"2024-06-01": record(1000, "steps", 5000),
	}, schema.Metadata{StartDate: "2024-06-01", LastModified: 900})

	recon := NewReconciler(store, remote.NewDirect(docs, "alice", "A"), nil, fixedClock(5000), quietLogger())

	first, err := recon.Reconcile(ctx, "alice")
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if first.Pushed != 1 || !first.MetaPushed {
		t.Errorf("first run pushed %d records, meta %v; want 1, true", first.Pushed, first.MetaPushed)
	}

	second, err := recon.Reconcile(ctx, "alice")
	if err != nil {
		t.Fatalf("second Reconcile() failed: %v", err)
	}
	if second.Pushed != 0 || second.MetaPushed || second.LocalChanged || second.Pulled != 0 {
		t.Errorf("second run = %+v, want no-op", second)
	}
}

func TestReconcile_PullsIntoEmptyDevice(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	seeded := map[string]*schema.Record{
		"2024-06-01": record(1000, "steps", 1),
		"2024-06-02": record(1001, "steps", 2),
	}
	if err := remote.NewDirect(docs, "alice", "A").PutRecords(ctx, "alice", seeded); err != nil {
		t.Fatalf("PutRecords() failed: %v", err)
	}

	store := setupLocal(t)
	notifier := NewNotifier()
	signal, unsubscribe := notifier.Subscribe()
	defer unsubscribe()

	result, err := NewReconciler(store, remote.NewDirect(docs, "alice", "B"), notifier, fixedClock(5000), quietLogger()).
		Reconcile(ctx, "alice")
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if result.Pulled != 2 || result.Pushed != 0 {
		t.Errorf("Pulled = %d, Pushed = %d; want 2, 0", result.Pulled, result.Pushed)
	}
	select {
	case <-signal:
	default:
		t.Error("expected a data-changed signal")
	}
	if got := store.Load(ctx); len(got.Records) != 2 {
		t.Errorf("local records = %d, want 2", len(got.Records))
	}
}

func TestReconcile_WeeklyReviewsUnion(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	localA, localB := setupLocal(t), setupLocal(t)

	seedLocal(t, localA, nil, schema.Metadata{
		StartDate: "2024-01-01",
		WeeklyReviews: map[string]schema.WeeklyReview{
			"2024-W10": {Worked: "walks"},
			"2024-W09": {Adjust: "sleep earlier"},
		},
		LastModified: 100,
	})
	seedLocal(t, localB, nil, schema.Metadata{
		StartDate: "2024-02-01",
		WeeklyReviews: map[string]schema.WeeklyReview{
			"2024-W10": {Worked: "runs", Didnt: "stretching"},
			"2024-W11": {Worked: "yoga"},
		},
		LastModified: 200,
	})

	reconA := NewReconciler(localA, remote.NewDirect(docs, "alice", "A"), nil, fixedClock(5000), quietLogger())
	reconB := NewReconciler(localB, remote.NewDirect(docs, "alice", "B"), nil, fixedClock(5000), quietLogger())
	for _, r := range []*Reconciler{reconA, reconB, reconA} {
		if _, err := r.Reconcile(ctx, "alice"); err != nil {
			t.Fatalf("Reconcile() failed: %v", err)
		}
	}

	metaA, metaB := localA.Load(ctx).Metadata, localB.Load(ctx).Metadata
	if len(metaB.WeeklyReviews) != 3 {
		t.Errorf("B reviews = %v, want 3 weeks", metaB.WeeklyReviews)
	}
	// B merged last with A's document as remote, so B's text wins on W10.
	if w := metaB.WeeklyReviews["2024-W10"]; w.Worked != "runs" || w.Didnt != "stretching" {
		t.Errorf("B W10 = %+v", w)
	}
	if metaB.StartDate != "2024-02-01" {
		t.Errorf("B StartDate = %q, want local value", metaB.StartDate)
	}
	if metaA.LastModified != 200 {
		t.Errorf("A LastModified = %d, want 200", metaA.LastModified)
	}
	if _, ok := metaA.WeeklyReviews["2024-W11"]; !ok {
		t.Errorf("A missing W11 after reconcile: %v", metaA.WeeklyReviews)
	}
}

func TestReconcile_FetchFailureLeavesLocalUntouched(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	store := setupLocal(t)
	seedLocal(t, store, map[string]*schema.Record{"2024-06-01": record(1000, "steps", 1)}, schema.Metadata{})
	before := store.Load(ctx)

	flaky := newFlakyStore(remote.NewDirect(docs, "alice", "A"))
	failWith(&flaky.fetchErr, errNetwork)

	_, err := NewReconciler(store, flaky, nil, fixedClock(5000), quietLogger()).Reconcile(ctx, "alice")
	if !errors.Is(err, errNetwork) {
		t.Fatalf("Reconcile() error = %v, want %v", err, errNetwork)
	}
	if after := store.Load(ctx); !after.Equal(before) {
		t.Errorf("local changed after failed reconcile: %+v", after)
	}
}

func TestReconcile_PushFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	store := setupLocal(t)
	seedLocal(t, store, map[string]*schema.Record{"2024-06-01": record(1000, "steps", 1)}, schema.Metadata{})

	flaky := newFlakyStore(remote.NewDirect(docs, "alice", "A"))
	failWith(&flaky.putErr, errNetwork)
	recon := NewReconciler(store, flaky, nil, fixedClock(5000), quietLogger())

	if _, err := recon.Reconcile(ctx, "alice"); !errors.Is(err, errNetwork) {
		t.Fatalf("Reconcile() error = %v, want %v", err, errNetwork)
	}

	flaky.putErr.Store(nil)
	result, err := recon.Reconcile(ctx, "alice")
	if err != nil {
		t.Fatalf("retry Reconcile() failed: %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("retry pushed %d records, want 1", result.Pushed)
	}
}

func TestReconcile_StartDateDefaultsToToday(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	store := setupLocal(t)
	today := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	clock := func() time.Time { return today }
	if _, err := NewReconciler(store, remote.NewDirect(docs, "alice", "A"), nil, clock, quietLogger()).
		Reconcile(ctx, "alice"); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if got := store.Load(ctx).Metadata.StartDate; got != "2024-06-15" {
		t.Errorf("StartDate = %q, want 2024-06-15", got)
	}
}

func TestReconcileProfile(t *testing.T) {
	ctx := context.Background()
	docs := setupDocstore(t)
	localA, localB := setupLocal(t), setupLocal(t)

	if err := localA.SaveProfile(ctx, record(100, "name", "Old")); err != nil {
		t.Fatalf("SaveProfile() failed: %v", err)
	}
	if err := localB.SaveProfile(ctx, record(200, "name", "New")); err != nil {
		t.Fatalf("SaveProfile() failed: %v", err)
	}

	reconA := NewReconciler(localA, remote.NewDirect(docs, "alice", "A"), nil, nil, quietLogger())
	reconB := NewReconciler(localB, remote.NewDirect(docs, "alice", "B"), nil, nil, quietLogger())
	for _, r := range []*Reconciler{reconA, reconB, reconA} {
		if err := r.ReconcileProfile(ctx, "alice"); err != nil {
			t.Fatalf("ReconcileProfile() failed: %v", err)
		}
	}

	profile, err := localA.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile() failed: %v", err)
	}
	if profile.String("name") != "New" {
		t.Errorf("A profile name = %q, want New", profile.String("name"))
	}
}
