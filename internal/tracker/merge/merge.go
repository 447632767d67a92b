// Package merge reconciles two copies of the same document.
//
// Day records use whole-record last-write-wins on lastModified. The metadata
// document merges field groups instead: scalar fields prefer the local value
// when set, and weekly reviews are unioned with local entries winning. All
// functions here are pure and never mutate their inputs.
package merge

import (
	"time"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Record returns the winner of local and remote.
//
// A nil side yields the other. Otherwise the record with the strictly greater
// LastModified wins in full; on a tie local wins. The result is a copy.
func Record(local, remote *schema.Record) *schema.Record {
	switch {
	case local == nil && remote == nil:
		return nil
	case local == nil:
		return remote.Clone()
	case remote == nil:
		return local.Clone()
	}
	if remote.LastModified > local.LastModified {
		return remote.Clone()
	}
	return local.Clone()
}

// RemoteWins reports whether remote should replace local.
// Used by the subscription path, which only applies strictly newer records.
func RemoteWins(local, remote *schema.Record) bool {
	if remote == nil {
		return false
	}
	if local == nil {
		return true
	}
	return remote.LastModified > local.LastModified
}

// Records merges two keyed record sets over the union of their keys.
func Records(local, remote map[string]*schema.Record) map[string]*schema.Record {
	out := make(map[string]*schema.Record, len(local)+len(remote))
	for key, rec := range local {
		if merged := Record(rec, remote[key]); merged != nil {
			out[key] = merged
		}
	}
	for key, rec := range remote {
		if _, seen := local[key]; seen {
			continue
		}
		if merged := Record(nil, rec); merged != nil {
			out[key] = merged
		}
	}
	return out
}

// Metadata merges the metadata document.
//
// StartDate and Timezone take local when set, then remote, and StartDate
// falls back to today's date key. Weekly reviews are the union of both maps;
// for a week present on both sides each non-empty local field overrides the
// remote one. LastModified is the greater of the two so that merging is
// idempotent.
func Metadata(local, remote schema.Metadata, today time.Time) schema.Metadata {
	out := schema.Metadata{
		StartDate:    firstNonEmpty(local.StartDate, remote.StartDate),
		Timezone:     firstNonEmpty(local.Timezone, remote.Timezone),
		LastModified: max(local.LastModified, remote.LastModified),
	}
	if out.StartDate == "" {
		out.StartDate = schema.DateKey(today)
	}

	if len(local.WeeklyReviews) > 0 || len(remote.WeeklyReviews) > 0 {
		out.WeeklyReviews = make(map[string]schema.WeeklyReview, len(local.WeeklyReviews)+len(remote.WeeklyReviews))
		for week, review := range remote.WeeklyReviews {
			out.WeeklyReviews[week] = review
		}
		for week, review := range local.WeeklyReviews {
			out.WeeklyReviews[week] = Review(review, out.WeeklyReviews[week])
		}
	}
	return out
}

// Review unions two reviews of the same week, local fields winning.
func Review(local, remote schema.WeeklyReview) schema.WeeklyReview {
	return schema.WeeklyReview{
		Worked: firstNonEmpty(local.Worked, remote.Worked),
		Didnt:  firstNonEmpty(local.Didnt, remote.Didnt),
		Adjust: firstNonEmpty(local.Adjust, remote.Adjust),
		Date:   firstNonEmpty(local.Date, remote.Date),
	}
}

// Snapshot merges full local and remote snapshots.
func Snapshot(local, remote schema.Snapshot, today time.Time) schema.Snapshot {
	return schema.Snapshot{
		Records:  Records(local.Records, remote.Records),
		Metadata: Metadata(local.Metadata, remote.Metadata, today),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
