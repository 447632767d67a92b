package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// resolveDate turns a --date value into a day key. Empty means today;
// YYYY-MM-DD is taken as is; anything else ("yesterday", "last monday")
// is parsed relative to now in loc.
func resolveDate(s string, now time.Time, loc *time.Location) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return schema.DateKey(now.In(loc)), nil
	}
	if _, err := schema.ParseDateKey(s, loc); err == nil {
		return s, nil
	}
	r, err := dateParser.Parse(s, now.In(loc))
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("could not understand date %q", s)
	}
	return schema.DateKey(r.Time.In(loc)), nil
}
