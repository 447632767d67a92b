package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRecord_JSONFlattensLastModified(t *testing.T) {
	rec := NewRecord()
	rec.Set("steps", 5000)
	rec.LastModified = 1717200000000

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	want := `{"lastModified":1717200000000,"steps":5000}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if back.LastModified != rec.LastModified {
		t.Errorf("LastModified = %d, want %d", back.LastModified, rec.LastModified)
	}
	if back.Has(LastModifiedField) {
		t.Error("lastModified should not remain in Fields")
	}
	if got := back.Int("steps"); got != 5000 {
		t.Errorf("steps = %d, want 5000", got)
	}
	if !back.Equal(rec) {
		t.Error("decoded record should equal original")
	}
}

func TestRecord_UnmarshalWithoutTimestamp(t *testing.T) {
	var rec Record
	if err := json.Unmarshal([]byte(`{"weight":80.5,"note":"ok"}`), &rec); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if rec.LastModified != 0 {
		t.Errorf("LastModified = %d, want 0", rec.LastModified)
	}
	if got := rec.Float("weight"); got != 80.5 {
		t.Errorf("weight = %v, want 80.5", got)
	}
	if got := rec.String("note"); got != "ok" {
		t.Errorf("note = %q, want %q", got, "ok")
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := NewRecord()
	rec.Set("foods", []any{map[string]any{"name": "rice"}})
	rec.Set("workoutChecks", map[string]any{"squat": true})

	clone := rec.Clone()
	clone.Fields["foods"].([]any)[0].(map[string]any)["name"] = "bread"
	clone.Fields["workoutChecks"].(map[string]any)["squat"] = false

	if got := rec.Fields["foods"].([]any)[0].(map[string]any)["name"]; got != "rice" {
		t.Errorf("original foods mutated: %v", got)
	}
	if got := rec.Fields["workoutChecks"].(map[string]any)["squat"]; got != true {
		t.Errorf("original checks mutated: %v", got)
	}
}

func TestRecord_SetLastModifiedField(t *testing.T) {
	rec := NewRecord()
	rec.Set(LastModifiedField, int64(42))
	if rec.LastModified != 42 {
		t.Errorf("LastModified = %d, want 42", rec.LastModified)
	}
	if rec.Has(LastModifiedField) {
		t.Error("lastModified should be routed to the timestamp, not a field")
	}
}

func TestDefaultRecord(t *testing.T) {
	rec := DefaultRecord()
	if rec.LastModified != 0 {
		t.Errorf("default LastModified = %d, want 0", rec.LastModified)
	}
	for _, field := range []string{"steps", "workout", "foods", "water", "weight", "note", "roomCleaned"} {
		if !rec.Has(field) {
			t.Errorf("default record missing %q", field)
		}
	}
}

func TestSnapshot_GetOrDefault(t *testing.T) {
	snap := NewSnapshot()
	stored := NewRecord()
	stored.Set("steps", 1200)
	stored.LastModified = 10
	snap.Records["2024-06-01"] = stored

	got := snap.GetOrDefault("2024-06-01")
	if got.Int("steps") != 1200 {
		t.Errorf("steps = %d, want 1200", got.Int("steps"))
	}
	got.Set("steps", 1)
	if stored.Int("steps") != 1200 {
		t.Error("GetOrDefault must return a copy")
	}

	missing := snap.GetOrDefault("2024-06-02")
	if missing.LastModified != 0 || !missing.Has("foods") {
		t.Errorf("missing day should be the default record, got %+v", missing)
	}
	if _, ok := snap.Records["2024-06-02"]; ok {
		t.Error("GetOrDefault must not materialize the default in the snapshot")
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "date", key: "2024-06-01"},
		{name: "composite", key: "2024-06-01:morning"},
		{name: "empty", key: "", wantErr: true},
		{name: "slash", key: "2024/06/01", wantErr: true},
		{name: "traversal", key: "../x", wantErr: true},
		{name: "space", key: "a b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error should wrap ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestWeekID(t *testing.T) {
	tests := []struct {
		date string
		want string
	}{
		{"2024-01-01", "2024-W01"},
		{"2024-01-06", "2024-W01"},
		{"2024-01-07", "2024-W02"},
		{"2024-03-04", "2024-W10"},
		{"2023-12-31", "2023-W53"},
	}

	for _, tt := range tests {
		d, err := ParseDateKey(tt.date, time.UTC)
		if err != nil {
			t.Fatalf("ParseDateKey(%q) failed: %v", tt.date, err)
		}
		if got := WeekID(d); got != tt.want {
			t.Errorf("WeekID(%s) = %s, want %s", tt.date, got, tt.want)
		}
	}
}

func TestDateRange(t *testing.T) {
	keys, err := DateRange("2024-02-27", "2024-03-01")
	if err != nil {
		t.Fatalf("DateRange() failed: %v", err)
	}
	want := []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"}
	if len(keys) != len(want) {
		t.Fatalf("DateRange() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	if _, err := DateRange("2024-03-02", "2024-03-01"); err == nil {
		t.Error("DateRange() should reject reversed ranges")
	}
}
