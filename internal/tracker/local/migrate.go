package local

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// legacySnapshot is the layout written by the first release: a flat day map
// with no metadata document.
type legacySnapshot struct {
	Days      map[string]map[string]any `json:"days"`
	StartDate string                    `json:"startDate"`
}

// MigrateResult describes what MigrateLegacy did.
type MigrateResult struct {
	RecordsImported int
	Skipped         bool   // nothing to migrate, or already migrated
	Reason          string // set when Skipped
}

// MigrateLegacy imports the v1 tracker document when no v2 document exists.
//
// Each legacy day is laid over the default record, as the first release
// rendered missing fields. Imported records carry no timestamp, so any
// synced copy of the same day wins over them. The v1 document is left in
// place.
func (s *Store) MigrateLegacy(ctx context.Context) (*MigrateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found, err := s.Get(ctx, TrackerKey); err != nil {
		return nil, err
	} else if found {
		return &MigrateResult{Skipped: true, Reason: "tracker document already present"}, nil
	}

	data, found, err := s.Get(ctx, LegacyTrackerKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return &MigrateResult{Skipped: true, Reason: "no legacy document"}, nil
	}

	var legacy legacySnapshot
	if err := json.Unmarshal(data, &legacy); err != nil {
		s.logger.Warn("legacy document is corrupted, skipping migration", "err", err)
		return &MigrateResult{Skipped: true, Reason: "legacy document corrupted"}, nil
	}

	snap := schema.NewSnapshot()
	snap.Metadata.StartDate = legacy.StartDate
	for date, day := range legacy.Days {
		if err := schema.ValidateKey(date); err != nil {
			s.logger.Warn("skipping legacy day", "key", date, "err", err)
			continue
		}
		rec := schema.DefaultRecord()
		for field, value := range day {
			rec.Set(field, value)
		}
		if v, ok := rec.Get("foods"); !ok || v == nil {
			rec.Set("foods", []any{})
		}
		snap.Records[date] = rec
	}

	encoded, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode migrated snapshot: %w", err)
	}
	if err := s.Put(ctx, TrackerKey, encoded); err != nil {
		return nil, err
	}
	s.mem = snap

	s.logger.Info("migrated legacy tracker document", "records", len(snap.Records))
	return &MigrateResult{RecordsImported: len(snap.Records)}, nil
}
