// Package tracker is the application-facing API of the habit tracker.
//
// Reads come from the local store and never touch the network. Writes go
// through the sync session's publisher: they are stamped, stored locally,
// and pushed to the remote store in the background when signed in. Remote
// failures surface only as the session's sync status.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/charmbracelet/log"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/local"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
	tsync "github.com/cedrickato-personal/kensho-app/internal/tracker/sync"
)

// DefaultTimezone is used until the user picks one.
const DefaultTimezone = "Asia/Manila"

// ErrEmptyReview is returned when a weekly review has no text at all.
var ErrEmptyReview = errors.New("weekly review is empty")

// Tracker reads and edits one user's tracked days.
type Tracker struct {
	local   *local.Store
	session *tsync.Session
	clock   tsync.Clock
	logger  *log.Logger
}

// Options configures a Tracker.
type Options struct {
	Local   *local.Store
	Session *tsync.Session
	Clock   tsync.Clock
	Logger  *log.Logger
}

// New creates a Tracker. Local and Session are required.
func New(opts Options) (*Tracker, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("sync session is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default().WithPrefix("tracker")
	}
	return &Tracker{local: opts.Local, session: opts.Session, clock: opts.Clock, logger: opts.Logger}, nil
}

// Session returns the sync session.
func (t *Tracker) Session() *tsync.Session { return t.session }

func (t *Tracker) now() time.Time {
	if t.clock == nil {
		return time.Now()
	}
	return t.clock()
}

// Snapshot returns every record and the metadata document.
func (t *Tracker) Snapshot(ctx context.Context) schema.Snapshot {
	return t.local.Load(ctx)
}

// Location returns the user's timezone, falling back to DefaultTimezone.
func (t *Tracker) Location(ctx context.Context) *time.Location {
	name := t.local.Load(ctx).Metadata.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.logger.Warn("unknown timezone, using UTC", "timezone", name, "err", err)
		return time.UTC
	}
	return loc
}

// Today returns today's date key in the user's timezone.
func (t *Tracker) Today(ctx context.Context) string {
	return schema.DateKey(t.now().In(t.Location(ctx)))
}

// Day returns the record for key, or the default record when the day has
// never been saved. The default is not stored.
func (t *Tracker) Day(ctx context.Context, key string) (*schema.Record, error) {
	if err := schema.ValidateKey(key); err != nil {
		return nil, err
	}
	return t.local.Load(ctx).GetOrDefault(key), nil
}

// UpdateDay applies fn to the stored record for key and publishes it.
// Persistence failures are logged; the change stays visible in memory.
func (t *Tracker) UpdateDay(ctx context.Context, key string, fn func(*schema.Record) error) (*schema.Record, error) {
	rec, err := t.session.Publisher().UpdateRecord(ctx, key, fn)
	if errors.Is(err, local.ErrPersist) {
		t.logger.Warn("day kept in memory only", "key", key, "err", err)
		return rec, nil
	}
	return rec, err
}

// SetField sets one field of a day.
func (t *Tracker) SetField(ctx context.Context, key, field string, value any) (*schema.Record, error) {
	if field == "" || field == schema.LastModifiedField {
		return nil, fmt.Errorf("field %q cannot be set", field)
	}
	return t.UpdateDay(ctx, key, func(rec *schema.Record) error {
		rec.Set(field, value)
		return nil
	})
}

// SaveWeeklyReview stores the review for the week containing date.
// Blank reviews are rejected.
func (t *Tracker) SaveWeeklyReview(ctx context.Context, date string, review schema.WeeklyReview) (string, error) {
	day, err := schema.ParseDateKey(date, time.UTC)
	if err != nil {
		return "", err
	}
	review.Worked = strings.TrimSpace(review.Worked)
	review.Didnt = strings.TrimSpace(review.Didnt)
	review.Adjust = strings.TrimSpace(review.Adjust)
	if review.Worked == "" && review.Didnt == "" && review.Adjust == "" {
		return "", ErrEmptyReview
	}
	review.Date = date

	week := schema.WeekID(day)
	err = t.updateMeta(ctx, func(m *schema.Metadata) error {
		if m.WeeklyReviews == nil {
			m.WeeklyReviews = make(map[string]schema.WeeklyReview)
		}
		m.WeeklyReviews[week] = review
		return nil
	})
	return week, err
}

// SetStartDate sets the first day of the program.
func (t *Tracker) SetStartDate(ctx context.Context, date string) error {
	if _, err := schema.ParseDateKey(date, time.UTC); err != nil {
		return err
	}
	return t.updateMeta(ctx, func(m *schema.Metadata) error {
		m.StartDate = date
		return nil
	})
}

// SetTimezone sets the IANA timezone used to decide what "today" is.
func (t *Tracker) SetTimezone(ctx context.Context, name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return t.updateMeta(ctx, func(m *schema.Metadata) error {
		m.Timezone = name
		return nil
	})
}

func (t *Tracker) updateMeta(ctx context.Context, fn func(*schema.Metadata) error) error {
	_, err := t.session.Publisher().UpdateMeta(ctx, fn)
	if errors.Is(err, local.ErrPersist) {
		t.logger.Warn("metadata kept in memory only", "err", err)
		return nil
	}
	return err
}

// DayNumber returns the 1-based program day of key, counted from the start
// date. It is 0 before the start date or when no start date is set.
func (t *Tracker) DayNumber(ctx context.Context, key string) int {
	start := t.local.Load(ctx).Metadata.StartDate
	if start == "" {
		return 0
	}
	from, err := schema.ParseDateKey(start, time.UTC)
	if err != nil {
		return 0
	}
	to, err := schema.ParseDateKey(key, time.UTC)
	if err != nil || to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}

// Profile returns the locally cached profile document, or nil.
func (t *Tracker) Profile(ctx context.Context) (*schema.Record, error) {
	return t.local.Profile(ctx)
}

// UpdateProfile applies fn to the profile and publishes it.
func (t *Tracker) UpdateProfile(ctx context.Context, fn func(*schema.Record) error) (*schema.Record, error) {
	profile, err := t.local.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = schema.NewRecord()
	}
	if err := fn(profile); err != nil {
		return nil, err
	}
	return t.session.Publisher().PublishProfile(ctx, profile)
}

// Goals returns the user's daily targets.
func (t *Tracker) Goals(ctx context.Context) Goals {
	profile, err := t.local.Profile(ctx)
	if err != nil {
		t.logger.Warn("failed to read profile, using default goals", "err", err)
	}
	return GoalsFromProfile(profile)
}

// Summary returns the progress overview as of today.
func (t *Tracker) Summary(ctx context.Context) Summary {
	today := t.Today(ctx)
	sum := NewSummary(t.local.Load(ctx), today, t.Goals(ctx))
	sum.Day = t.DayNumber(ctx, today)
	return sum
}

// Photos returns the local-only progress photos.
func (t *Tracker) Photos(ctx context.Context) ([]schema.Photo, error) {
	return t.local.Photos(ctx)
}

// AddPhoto records a progress photo for date. Photos are never synced.
func (t *Tracker) AddPhoto(ctx context.Context, date, path, caption string) (schema.Photo, error) {
	photo, err := schema.NewPhoto(date, path, caption, t.now())
	if err != nil {
		return schema.Photo{}, err
	}
	if err := t.local.AddPhoto(ctx, photo); err != nil {
		return schema.Photo{}, err
	}
	t.session.Notifier().Notify()
	return photo, nil
}

// Reset erases all data, remote first when signed in.
func (t *Tracker) Reset(ctx context.Context) error {
	return t.session.Reset(ctx)
}

// Status returns the sync indicator and the error behind it, if any.
func (t *Tracker) Status() (tsync.Status, error) {
	return t.session.Status(), t.session.LastError()
}
