package schema

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DateLayout is the format of a date key.
const DateLayout = "2006-01-02"

// ErrInvalidKey is returned for record keys that cannot be used as a
// document id.
var ErrInvalidKey = errors.New("invalid record key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// ValidateKey checks that key is usable as a record id in both stores.
// Keys are usually dates but composite keys are allowed.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// DateKey formats t as a record key.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDateKey parses a YYYY-MM-DD key in loc.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a date", ErrInvalidKey, key)
	}
	return t, nil
}

// WeekID returns the week identifier (YYYY-Www) used to key weekly reviews.
// Week 1 is the week containing January 1st, with weeks starting on Sunday.
func WeekID(t time.Time) string {
	y := t.Year()
	jan1 := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(y, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int(day.Sub(jan1).Hours() / 24)
	week := (days + int(jan1.Weekday()) + 1 + 6) / 7
	return fmt.Sprintf("%d-W%02d", y, week)
}

// DateRange returns every date key from start to end inclusive.
func DateRange(start, end string) ([]string, error) {
	from, err := ParseDateKey(start, time.UTC)
	if err != nil {
		return nil, err
	}
	to, err := ParseDateKey(end, time.UTC)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("range end %s is before start %s", end, start)
	}
	var keys []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		keys = append(keys, DateKey(d))
	}
	return keys, nil
}
