package remote

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

func TestDecodeBatch_PendingWrite(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		device string
		want   bool
	}{
		{"own write", "phone", "phone", true},
		{"other device", "laptop", "phone", false},
		{"no origin", "", "phone", false},
		{"no device id", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := DecodeBatch(WireBatch{Origin: tt.origin}, tt.device)
			if err != nil {
				t.Fatalf("DecodeBatch() failed: %v", err)
			}
			if b.PendingWrite != tt.want {
				t.Errorf("PendingWrite = %v, want %v", b.PendingWrite, tt.want)
			}
		})
	}
}

func TestDecodeBatch_SkipsBadChanges(t *testing.T) {
	wb := WireBatch{Changes: []WireChange{
		{Type: ChangeAdded, Collection: "days", ID: "2024-03-01", Data: json.RawMessage(`{"steps":9000,"lastModified":5}`)},
		{Type: ChangeModified, Collection: "days", ID: "2024-03-02", Data: json.RawMessage(`[1,2]`)},
		{Type: ChangeRemoved, Collection: "days", ID: "2024-03-03"},
	}}

	b, err := DecodeBatch(wb, "phone")
	if err == nil {
		t.Error("Expected an error for the undecodable change")
	}
	if len(b.Changes) != 2 {
		t.Fatalf("Expected 2 changes, got %d", len(b.Changes))
	}
	if got := b.Changes[0].Record; got == nil || got.LastModified != 5 || got.Int("steps") != 9000 {
		t.Errorf("Unexpected first record: %+v", got)
	}
	if b.Changes[1].Type != ChangeRemoved || b.Changes[1].Record != nil {
		t.Errorf("Removal should carry no record: %+v", b.Changes[1])
	}
}

func TestEncodeRecords(t *testing.T) {
	rec := schema.NewRecord()
	rec.Set("water", 6)
	rec.LastModified = 42

	out, err := EncodeRecords(map[string]*schema.Record{"2024-03-01": rec, "2024-03-02": nil})
	if err != nil {
		t.Fatalf("EncodeRecords() failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Expected nil records to be skipped, got %d entries", len(out))
	}

	back, err := DecodeRecords(out)
	if err != nil {
		t.Fatalf("DecodeRecords() failed: %v", err)
	}
	if !back["2024-03-01"].Equal(rec) {
		t.Errorf("Round trip changed the record: %+v", back["2024-03-01"])
	}

	_, err = EncodeRecords(map[string]*schema.Record{"a/b": rec})
	if !errors.Is(err, schema.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}
