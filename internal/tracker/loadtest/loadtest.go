// Package loadtest drives several simulated devices against one document
// store and reports how fast local writes complete and whether every device
// ends up with the same data.
//
// Each device has its own local store and session, signed in through an
// in-process remote, and edits randomly chosen days concurrently with the
// others. All devices share one clock that never repeats a millisecond, so
// the last-writer-wins outcome is unambiguous and convergence is checkable.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/docstore"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/local"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
	tsync "github.com/cedrickato-personal/kensho-app/internal/tracker/sync"
)

// UserID is the tenant every simulated device signs in as.
const UserID = "loadtest"

// Config controls a run.
type Config struct {
	Devices        int           // simulated devices (default 4)
	Days           int           // distinct day keys edited (default 30)
	EditsPerDevice int           // writes per device (default 50)
	Seed           int64         // base seed for the edit pattern
	SettleTimeout  time.Duration // how long to wait for live delivery (default 10s)
	Logger         *log.Logger
}

func (c *Config) withDefaults() {
	if c.Devices <= 0 {
		c.Devices = 4
	}
	if c.Days <= 0 {
		c.Days = 30
	}
	if c.EditsPerDevice <= 0 {
		c.EditsPerDevice = 50
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Default().WithPrefix("loadtest")
	}
}

// LatencyStats captures write latencies.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	Total     int
	Errors    int
	Durations []time.Duration
}

// Result describes a finished run.
type Result struct {
	Writes *LatencyStats

	// LiveConverged reports whether the devices agreed with each other
	// through change delivery alone, before any reconciliation.
	LiveConverged bool
	Settle        time.Duration

	// Repaired counts records pushed by the closing reconciliation round,
	// i.e. remote documents that lost an out-of-order push race.
	Repaired int

	Records int
}

type device struct {
	id      string
	store   *local.Store
	session *tsync.Session
}

// Run executes a load test with databases created under dir.
func Run(ctx context.Context, dir string, cfg Config) (*Result, error) {
	cfg.withDefaults()
	logger := cfg.Logger

	ds, err := docstore.Open(docstore.Options{
		Path:   filepath.Join(dir, "server.db"),
		Logger: logger.WithPrefix("docstore"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	defer ds.Close()
	if err := ds.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}

	clock := uniqueClock(time.Now())
	devices := make([]*device, 0, cfg.Devices)
	defer func() {
		for _, d := range devices {
			d.session.Close()
			_ = d.store.Close()
		}
	}()

	for i := 0; i < cfg.Devices; i++ {
		d, err := openDevice(ctx, dir, i, ds, clock, logger)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	writes, err := runEdits(ctx, devices, cfg)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		d.session.Publisher().Wait()
	}

	result := &Result{Writes: writes}
	start := time.Now()
	result.LiveConverged = waitConverged(ctx, devices, cfg.SettleTimeout)
	result.Settle = time.Since(start)

	// Pushes can land at the server out of order, leaving an older copy
	// there. A reconciliation round per device restores the newest.
	for _, d := range devices {
		res, err := d.session.Resync(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: resync failed: %w", d.id, err)
		}
		result.Repaired += res.Pushed
	}
	for _, d := range devices {
		if _, err := d.session.Resync(ctx); err != nil {
			return nil, fmt.Errorf("%s: resync failed: %w", d.id, err)
		}
	}

	remoteSnap, err := remote.NewDirect(ds, UserID, "verifier").Fetch(ctx, UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch final snapshot: %w", err)
	}
	for _, d := range devices {
		if key, ok := sameRecords(d.store.Load(ctx), remoteSnap); !ok {
			return result, fmt.Errorf("%s diverged from the server at %s", d.id, key)
		}
	}
	result.Records = len(remoteSnap.Records)

	logger.Info("load test complete",
		"devices", cfg.Devices,
		"writes", writes.Total,
		"live_converged", result.LiveConverged,
		"repaired", result.Repaired,
	)
	return result, nil
}

func openDevice(ctx context.Context, dir string, i int, ds *docstore.Store, clock tsync.Clock, logger *log.Logger) (*device, error) {
	id := fmt.Sprintf("device-%d", i)
	store, err := local.Open(filepath.Join(dir, id+".db"), logger.WithPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open local store: %w", id, err)
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s: failed to initialize local store: %w", id, err)
	}
	session := tsync.NewSession(tsync.Config{
		Local:  store,
		Clock:  clock,
		Logger: logger.WithPrefix(id),
	})
	if err := session.SignIn(ctx, remote.NewDirect(ds, UserID, id)); err != nil {
		session.Close()
		_ = store.Close()
		return nil, fmt.Errorf("%s: sign in failed: %w", id, err)
	}
	if session.Status() != tsync.StatusSynced {
		err := session.LastError()
		session.Close()
		_ = store.Close()
		return nil, fmt.Errorf("%s: initial sync failed: %w", id, err)
	}
	return &device{id: id, store: store, session: session}, nil
}

// runEdits has every device write concurrently and collects latencies.
func runEdits(ctx context.Context, devices []*device, cfg Config) (*LatencyStats, error) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, len(devices))
	errorsChan := make(chan error, len(devices))

	for i, d := range devices {
		wg.Add(1)
		go func(n int, d *device) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(cfg.Seed + int64(n)))
			durations := make([]time.Duration, 0, cfg.EditsPerDevice)
			for j := 0; j < cfg.EditsPerDevice; j++ {
				key := schema.DateKey(base.AddDate(0, 0, rng.Intn(cfg.Days)))
				water := rng.Intn(12)

				start := time.Now()
				_, err := d.session.Publisher().UpdateRecord(ctx, key, func(rec *schema.Record) error {
					rec.Set("water", water)
					rec.Set("note", fmt.Sprintf("%s edit %d", d.id, j))
					return nil
				})
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("%s edit %d failed: %w", d.id, j, err)
					break
				}
			}
			resultsChan <- durations
		}(i, d)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errs []error
	for err := range errorsChan {
		errs = append(errs, err)
	}
	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no writes completed: %w", errors.Join(errs...))
	}

	stats := computeLatencyStats(all)
	stats.Errors = len(errs)
	return stats, nil
}

// waitConverged polls until every device holds the same records as the
// first one, or the timeout passes.
func waitConverged(ctx context.Context, devices []*device, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if converged(ctx, devices) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

func converged(ctx context.Context, devices []*device) bool {
	if len(devices) == 0 {
		return true
	}
	first := devices[0].store.Load(ctx)
	for _, d := range devices[1:] {
		if _, ok := sameRecords(first, d.store.Load(ctx)); !ok {
			return false
		}
	}
	return true
}

// sameRecords compares the day records of two snapshots and returns the
// first differing key.
func sameRecords(a, b schema.Snapshot) (string, bool) {
	if len(a.Records) != len(b.Records) {
		return "(record count)", false
	}
	for _, key := range a.Keys() {
		if !a.Record(key).Equal(b.Record(key)) {
			return key, false
		}
	}
	return "", true
}

// uniqueClock returns a clock that advances at least one millisecond per
// call, shared by all devices.
func uniqueClock(start time.Time) tsync.Clock {
	var last atomic.Int64
	last.Store(start.UnixMilli())
	return func() time.Time {
		for {
			prev := last.Load()
			next := max(prev+1, time.Now().UnixMilli())
			if last.CompareAndSwap(prev, next) {
				return time.UnixMilli(next)
			}
		}
	}
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Total:     len(durations),
		Durations: sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Write Latency:\n")
	fmt.Fprintf(w, "  Total Writes:  %d\n", s.Total)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
