package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// DefaultPublishTimeout bounds one background remote write.
const DefaultPublishTimeout = 15 * time.Second

// Publisher is the single entry point for local mutations.
//
// Every mutation is stamped with the current time, written to the local
// store synchronously and, when a remote target is set, upserted to the
// remote store on a background goroutine. The local write never waits for
// the network. Remote failures are logged and reported through the error
// hook; the next reconciliation repairs what was lost.
type Publisher struct {
	local    LocalStore
	notifier *Notifier
	clock    Clock
	logger   *log.Logger
	timeout  time.Duration

	mu      sync.Mutex
	store   remote.Store
	userID  string
	onError func(error)

	wg sync.WaitGroup
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Local    LocalStore
	Notifier *Notifier
	Clock    Clock
	Logger   *log.Logger
	Timeout  time.Duration
	OnError  func(error)
}

// NewPublisher creates a Publisher with no remote target.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("publish")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPublishTimeout
	}
	return &Publisher{
		local:    cfg.Local,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		onError:  cfg.OnError,
	}
}

// SetTarget routes subsequent mutations to store under userID.
func (p *Publisher) SetTarget(store remote.Store, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = store
	p.userID = userID
}

// ClearTarget stops remote writes. In-flight writes still complete.
func (p *Publisher) ClearTarget() {
	p.SetTarget(nil, "")
}

// Active reports whether mutations are currently pushed to a remote store.
func (p *Publisher) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store != nil
}

// Wait blocks until every background write started so far has finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

func (p *Publisher) target() (remote.Store, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store, p.userID
}

func (p *Publisher) stamp() int64 {
	return p.clock.now().UnixMilli()
}

// UpdateRecord applies fn to the stored record for key, or to an empty
// record for a day never saved, then publishes the result. The returned
// record is what was stored. An error wrapping local.ErrPersist means the
// change is visible in memory and was still pushed.
func (p *Publisher) UpdateRecord(ctx context.Context, key string, fn func(*schema.Record) error) (*schema.Record, error) {
	if err := schema.ValidateKey(key); err != nil {
		return nil, err
	}

	var saved *schema.Record
	_, err := p.local.Update(ctx, func(snap *schema.Snapshot) (bool, error) {
		rec := snap.Record(key).Clone()
		if rec == nil {
			rec = schema.NewRecord()
		}
		if err := fn(rec); err != nil {
			return false, err
		}
		rec.LastModified = p.stamp()
		snap.Records[key] = rec
		saved = rec.Clone()
		return true, nil
	})
	if saved == nil {
		return nil, err
	}
	p.notifier.Notify()

	p.push(fmt.Sprintf("record %s", key), func(ctx context.Context, store remote.Store, userID string) error {
		return store.PutRecords(ctx, userID, map[string]*schema.Record{key: saved})
	})
	return saved.Clone(), err
}

// PublishRecord replaces the record for key with rec and publishes it.
func (p *Publisher) PublishRecord(ctx context.Context, key string, rec *schema.Record) (*schema.Record, error) {
	if rec == nil {
		return nil, errors.New("record is nil")
	}
	return p.UpdateRecord(ctx, key, func(cur *schema.Record) error {
		*cur = *rec.Clone()
		return nil
	})
}

// UpdateMeta applies fn to the metadata document and publishes it.
func (p *Publisher) UpdateMeta(ctx context.Context, fn func(*schema.Metadata) error) (schema.Metadata, error) {
	var saved schema.Metadata
	applied := false
	_, err := p.local.Update(ctx, func(snap *schema.Snapshot) (bool, error) {
		meta := snap.Metadata.Clone()
		if err := fn(&meta); err != nil {
			return false, err
		}
		meta.LastModified = p.stamp()
		snap.Metadata = meta
		saved = meta.Clone()
		applied = true
		return true, nil
	})
	if !applied {
		return schema.Metadata{}, err
	}
	p.notifier.Notify()

	p.push("metadata", func(ctx context.Context, store remote.Store, userID string) error {
		return store.PutMeta(ctx, userID, saved)
	})
	return saved.Clone(), err
}

// PublishProfile stamps and stores the profile document and publishes it.
func (p *Publisher) PublishProfile(ctx context.Context, profile *schema.Record) (*schema.Record, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	saved := profile.Clone()
	saved.LastModified = p.stamp()
	if err := p.local.SaveProfile(ctx, saved); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	p.notifier.Notify()

	p.push("profile", func(ctx context.Context, store remote.Store, userID string) error {
		return store.PutProfile(ctx, userID, saved)
	})
	return saved.Clone(), nil
}

// push runs write against the current target on a background goroutine.
func (p *Publisher) push(what string, write func(ctx context.Context, store remote.Store, userID string) error) {
	store, userID := p.target()
	if store == nil {
		p.logger.Debug("no remote target, kept local only", "doc", what)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := write(ctx, store, userID); err != nil {
			p.logger.Warn("background publish failed", "doc", what, "err", err)
			if p.onError != nil {
				p.onError(fmt.Errorf("failed to publish %s: %w", what, err))
			}
			return
		}
		p.logger.Debug("published", "doc", what)
	}()
}
