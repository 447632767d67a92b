package remote

import (
	"encoding/json"
	"fmt"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// HeaderDeviceID carries the writer's device id on every request.
const HeaderDeviceID = "X-Device-ID"

// WireChange is a change as sent over the push channel.
type WireChange struct {
	Type       ChangeType      `json:"type"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// WireBatch is a batch as sent over the push channel.
type WireBatch struct {
	Origin  string       `json:"origin,omitempty"`
	Initial bool         `json:"initial,omitempty"`
	Changes []WireChange `json:"changes"`
}

// DocumentList is the body of collection listings.
type DocumentList struct {
	Documents map[string]json.RawMessage `json:"documents"`
}

// RecordBatch is the body of a multi-record upsert.
type RecordBatch struct {
	Records map[string]json.RawMessage `json:"records"`
}

// WhoAmI is the body of the authentication check.
type WhoAmI struct {
	UserID string `json:"user_id"`
}

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// DecodeBatch converts a wire batch into a Batch for deviceID.
// Changes that cannot be decoded are skipped and reported in the error.
func DecodeBatch(wb WireBatch, deviceID string) (Batch, error) {
	b := Batch{
		Origin:       wb.Origin,
		Initial:      wb.Initial,
		PendingWrite: wb.Origin != "" && wb.Origin == deviceID,
	}

	var firstErr error
	for _, wc := range wb.Changes {
		change := RecordChange{Type: wc.Type, Key: wc.ID}
		if wc.Type != ChangeRemoved {
			var rec schema.Record
			if err := json.Unmarshal(wc.Data, &rec); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to decode record %s: %w", wc.ID, err)
				}
				continue
			}
			change.Record = &rec
		}
		b.Changes = append(b.Changes, change)
	}
	return b, firstErr
}

// EncodeRecords marshals records for RecordBatch.
func EncodeRecords(records map[string]*schema.Record) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(records))
	for key, rec := range records {
		if err := schema.ValidateKey(key); err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %s: %w", key, err)
		}
		out[key] = data
	}
	return out, nil
}

// DecodeRecords unmarshals a document listing into records.
func DecodeRecords(docs map[string]json.RawMessage) (map[string]*schema.Record, error) {
	out := make(map[string]*schema.Record, len(docs))
	for key, data := range docs {
		var rec schema.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", key, err)
		}
		out[key] = &rec
	}
	return out, nil
}
