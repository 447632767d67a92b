package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/local"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	tsync "github.com/cedrickato-personal/kensho-app/internal/tracker/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the database files must stay quiet
	// before the local store is reloaded. Batches bursts of writes.
	DebounceInterval time.Duration

	// ResyncInterval, when positive, retries a full reconciliation at this
	// period while the sync status is error. Zero disables it.
	ResyncInterval time.Duration

	// OnReady, when set, is called once the session is signed in and the
	// database files are watched, while Start keeps blocking.
	OnReady func()

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.Default().WithPrefix("daemon"),
	}
}

// Daemon keeps one device live: it signs the session in, follows the remote
// change feed through the session, and watches the local database for
// writes made by other processes on the same device.
type Daemon struct {
	local   *local.Store
	session *tsync.Session
	remote  remote.Store
	config  *Config

	watcher   *FileWatcher
	pending   bool
	lastEvent time.Time
	pendingMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Daemon. Use Start to run it.
func New(store *local.Store, session *tsync.Session, rs remote.Store, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("local store cannot be nil")
	}
	if session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if rs == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		local:   store,
		session: session,
		remote:  rs,
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start signs in, starts watching and blocks until ctx is cancelled or Stop
// is called. Config.OnReady reports when the daemon is up. Only an authentication failure is returned; sync problems are
// reported through the session status.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Info("starting daemon", "db", d.local.Path())

	if err := d.session.SignIn(ctx, d.remote); err != nil {
		d.cancel()
		_ = d.watcher.Stop()
		return fmt.Errorf("sign-in failed: %w", err)
	}
	d.config.Logger.Info("session live", "user", d.session.UserID(), "status", d.session.Status())

	if err := d.watcher.Start(d.local.Path()); err != nil {
		d.cancel()
		d.session.SignOut()
		_ = d.watcher.Stop()
		return err
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.ResyncInterval > 0 {
		d.wg.Add(1)
		go d.resyncOnError()
	}
	if d.config.OnReady != nil {
		d.config.OnReady()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop signs out and shuts the daemon down. Safe to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Info("stopping daemon")
		d.cancel()

		if stopErr := d.watcher.Stop(); stopErr != nil {
			d.config.Logger.Warn("error closing watcher", "err", stopErr)
			err = stopErr
		}
		d.wg.Wait()
		d.session.SignOut()
		d.session.Publisher().Wait()

		d.config.Logger.Info("daemon stopped")
	})
	return err
}

// watchFileEvents queues database file changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Debug("file event", "op", event.Op, "path", event.Path)
			d.queueChange()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Warn("watcher error", "err", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	d.pending = true
	d.lastEvent = time.Now()
}

// processChangeQueue reloads the local store once events have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.pendingMu.Lock()
	ready := d.pending && time.Since(d.lastEvent) >= d.config.DebounceInterval
	if ready {
		d.pending = false
	}
	d.pendingMu.Unlock()

	if !ready {
		return
	}

	changed, err := d.local.Reload(d.ctx)
	if err != nil {
		d.config.Logger.Warn("failed to reload local store", "err", err)
		return
	}
	if changed {
		d.config.Logger.Debug("local store changed on disk")
		d.session.Notifier().Notify()
	}
}

// resyncOnError retries reconciliation while the session is in error.
func (d *Daemon) resyncOnError() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if d.session.Status() != tsync.StatusError {
				continue
			}
			if _, err := d.session.Resync(d.ctx); err != nil {
				d.config.Logger.Warn("resync failed", "err", err)
				continue
			}
			d.config.Logger.Info("resync repaired sync status")
		}
	}
}
