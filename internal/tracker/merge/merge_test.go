package merge

import (
	"testing"
	"time"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

var today = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

func record(ts int64, fields map[string]any) *schema.Record {
	rec := schema.NewRecord()
	for k, v := range fields {
		rec.Set(k, v)
	}
	rec.LastModified = ts
	return rec
}

func TestRecord(t *testing.T) {
	a := record(100, map[string]any{"steps": 5000})
	b := record(200, map[string]any{"weight": 80})
	c := record(100, map[string]any{"note": "tie"})
	unstamped := record(0, map[string]any{"steps": 1})

	tests := []struct {
		name   string
		local  *schema.Record
		remote *schema.Record
		want   *schema.Record
	}{
		{name: "both nil", want: nil},
		{name: "local only", local: a, want: a},
		{name: "remote only", remote: b, want: b},
		{name: "remote newer", local: a, remote: b, want: b},
		{name: "local newer", local: b, remote: a, want: b},
		{name: "tie keeps local", local: a, remote: c, want: a},
		{name: "tie keeps local reversed", local: c, remote: a, want: c},
		{name: "unstamped loses to stamped", local: unstamped, remote: a, want: a},
		{name: "stamped beats unstamped remote", local: a, remote: unstamped, want: a},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Record(tt.local, tt.remote)
			if !got.Equal(tt.want) {
				t.Errorf("Record() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRecord_Idempotent(t *testing.T) {
	for _, rec := range []*schema.Record{
		record(0, nil),
		record(1, map[string]any{"steps": 10}),
		record(1717200000000, map[string]any{"foods": []any{"egg"}, "omad": true}),
	} {
		if got := Record(rec, rec.Clone()); !got.Equal(rec) {
			t.Errorf("Record(x, x) = %+v, want %+v", got, rec)
		}
	}
}

func TestRecord_DoesNotAlias(t *testing.T) {
	local := record(5, map[string]any{"steps": 1})
	got := Record(local, nil)
	got.Set("steps", 2)
	if local.Int("steps") != 1 {
		t.Error("Record() result must not alias its input")
	}
}

func TestRecord_WholeRecordNotFieldLevel(t *testing.T) {
	// Device A stamped steps earlier; device B stamped weight later.
	deviceA := record(1000, map[string]any{"steps": 5000})
	deviceB := record(2000, map[string]any{"weight": 80})

	got := Record(deviceA, deviceB)
	if got.Has("steps") {
		t.Error("merged record should not carry the older device's steps field")
	}
	if got.Int("weight") != 80 {
		t.Errorf("weight = %d, want 80", got.Int("weight"))
	}
}

func TestRemoteWins(t *testing.T) {
	older := record(1, nil)
	newer := record(2, nil)

	if !RemoteWins(nil, older) {
		t.Error("remote should win when local is absent")
	}
	if RemoteWins(older, nil) {
		t.Error("absent remote never wins")
	}
	if !RemoteWins(older, newer) {
		t.Error("strictly newer remote should win")
	}
	if RemoteWins(newer, newer.Clone()) {
		t.Error("equal timestamps must not apply remote")
	}
}

func TestRecords_Union(t *testing.T) {
	local := map[string]*schema.Record{
		"2024-06-01": record(10, map[string]any{"steps": 1}),
		"2024-06-02": record(30, map[string]any{"steps": 2}),
	}
	remote := map[string]*schema.Record{
		"2024-06-02": record(20, map[string]any{"steps": 20}),
		"2024-06-03": record(40, map[string]any{"steps": 3}),
	}

	got := Records(local, remote)
	if len(got) != 3 {
		t.Fatalf("Records() returned %d keys, want 3", len(got))
	}
	if got["2024-06-02"].Int("steps") != 2 {
		t.Errorf("2024-06-02 steps = %d, want local 2", got["2024-06-02"].Int("steps"))
	}
	if got["2024-06-03"].Int("steps") != 3 {
		t.Errorf("2024-06-03 should come from remote")
	}
}

func TestMetadata_WeeklyReviewFieldUnion(t *testing.T) {
	remote := schema.Metadata{WeeklyReviews: map[string]schema.WeeklyReview{
		"2024-W10": {Worked: "X"},
	}}
	local := schema.Metadata{WeeklyReviews: map[string]schema.WeeklyReview{
		"2024-W10": {Didnt: "Y"},
	}}

	got := Metadata(local, remote, today)
	want := schema.WeeklyReview{Worked: "X", Didnt: "Y"}
	if got.WeeklyReviews["2024-W10"] != want {
		t.Errorf("2024-W10 = %+v, want %+v", got.WeeklyReviews["2024-W10"], want)
	}
}

func TestMetadata_LocalWinsOnCollision(t *testing.T) {
	remote := schema.Metadata{
		StartDate: "2024-01-01",
		Timezone:  "UTC",
		WeeklyReviews: map[string]schema.WeeklyReview{
			"2024-W01": {Worked: "remote", Adjust: "sleep"},
			"2024-W02": {Worked: "only remote"},
		},
		LastModified: 50,
	}
	local := schema.Metadata{
		StartDate: "2024-02-01",
		WeeklyReviews: map[string]schema.WeeklyReview{
			"2024-W01": {Worked: "local"},
		},
		LastModified: 10,
	}

	got := Metadata(local, remote, today)
	if got.StartDate != "2024-02-01" {
		t.Errorf("StartDate = %q, want local", got.StartDate)
	}
	if got.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want remote fallback", got.Timezone)
	}
	if r := got.WeeklyReviews["2024-W01"]; r.Worked != "local" || r.Adjust != "sleep" {
		t.Errorf("2024-W01 = %+v", r)
	}
	if got.WeeklyReviews["2024-W02"].Worked != "only remote" {
		t.Error("remote-only week should be kept")
	}
	if got.LastModified != 50 {
		t.Errorf("LastModified = %d, want 50", got.LastModified)
	}
}

func TestMetadata_StartDateDefaultsToToday(t *testing.T) {
	got := Metadata(schema.Metadata{}, schema.Metadata{}, today)
	if got.StartDate != "2024-06-15" {
		t.Errorf("StartDate = %q, want 2024-06-15", got.StartDate)
	}
	if got.WeeklyReviews != nil {
		t.Errorf("WeeklyReviews = %v, want nil", got.WeeklyReviews)
	}
}

func TestSnapshot_Idempotent(t *testing.T) {
	local := schema.NewSnapshot()
	local.Records["2024-06-01"] = record(10, map[string]any{"steps": 1})
	local.Metadata = schema.Metadata{StartDate: "2024-06-01"}
	remote := schema.NewSnapshot()
	remote.Records["2024-06-02"] = record(20, map[string]any{"water": 3})
	remote.Metadata = schema.Metadata{WeeklyReviews: map[string]schema.WeeklyReview{"2024-W22": {Worked: "a"}}}

	once := Snapshot(local, remote, today)
	twice := Snapshot(once, once, today)
	if !twice.Equal(once) {
		t.Errorf("merging a merged snapshot with itself changed it:\n%+v\n%+v", once, twice)
	}
}
