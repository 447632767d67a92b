// Package schema defines the documents the tracker keeps in both stores.
//
// A Record is one day of tracked habits. Its fields are free-form so the
// application can grow new habits without a schema change; the only field the
// sync engine interprets is lastModified. Records serialize to a flat JSON
// object so the local and remote representations are identical.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// LastModifiedField is the JSON name of the mutation timestamp.
const LastModifiedField = "lastModified"

// Record is a single day's tracked-habit document.
//
// LastModified is the mutation time in epoch milliseconds. Zero means the
// record was never saved through the publish path and loses every comparison.
type Record struct {
	Fields       map[string]any
	LastModified int64
}

// NewRecord returns an empty record with no timestamp.
func NewRecord() *Record {
	return &Record{Fields: make(map[string]any)}
}

// DefaultRecord returns the record shown for a day that has never been saved.
// It is synthesized on read and must not be persisted as-is.
func DefaultRecord() *Record {
	return &Record{Fields: map[string]any{
		"steps":         0,
		"workout":       false,
		"workoutDay":    nil,
		"workoutSets":   []any{},
		"workoutChecks": map[string]any{},
		"warmupDone":    false,
		"cooldownDone":  false,
		"skincare":      false,
		"omad":          false,
		"water":         0,
		"weight":        nil,
		"note":          "",
		"foods":         []any{},
		"lastMealTime":  nil,
		"brushAM":       false,
		"brushPM":       false,
		"bathing":       false,
		"laundry":       false,
		"roomCleaned":   false,
	}}
}

// Get returns the raw value of a field.
func (r *Record) Get(field string) (any, bool) {
	if r == nil || r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Has reports whether the field is present.
func (r *Record) Has(field string) bool {
	_, ok := r.Get(field)
	return ok
}

// Set stores a field value. Setting lastModified updates the timestamp.
func (r *Record) Set(field string, value any) {
	if field == LastModifiedField {
		if n, ok := toInt64(value); ok {
			r.LastModified = n
		}
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[field] = value
}

// Delete removes a field.
func (r *Record) Delete(field string) {
	if r.Fields != nil {
		delete(r.Fields, field)
	}
}

// Int returns a numeric field as int64, or 0.
func (r *Record) Int(field string) int64 {
	v, _ := r.Get(field)
	n, _ := toInt64(v)
	return n
}

// Float returns a numeric field as float64, or 0.
func (r *Record) Float(field string) float64 {
	v, _ := r.Get(field)
	f, _ := toFloat64(v)
	return f
}

// Bool returns a boolean field, or false.
func (r *Record) Bool(field string) bool {
	v, _ := r.Get(field)
	b, _ := v.(bool)
	return b
}

// String returns a string field, or "".
func (r *Record) String(field string) string {
	v, _ := r.Get(field)
	s, _ := v.(string)
	return s
}

// Len returns the number of elements of a list field.
func (r *Record) Len(field string) int {
	v, _ := r.Get(field)
	list, _ := v.([]any)
	return len(list)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{LastModified: r.LastModified, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = cloneValue(v)
	}
	return out
}

// Equal reports whether two records serialize to the same document.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	if r.LastModified != other.LastModified {
		return false
	}
	a, errA := json.Marshal(r)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// MarshalJSON writes the fields and lastModified as one flat object.
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		doc[k] = v
	}
	if r.LastModified > 0 {
		doc[LastModifiedField] = r.LastModified
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads a flat object, lifting lastModified out of the fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	if doc == nil {
		doc = make(map[string]any)
	}

	r.LastModified = 0
	if raw, ok := doc[LastModifiedField]; ok {
		if n, ok := toInt64(raw); ok {
			r.LastModified = n
		}
		delete(doc, LastModifiedField)
	}
	r.Fields = doc
	return nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AsFloat converts a decoded JSON number to float64.
func AsFloat(v any) (float64, bool) {
	return toFloat64(v)
}

// AsInt converts a decoded JSON number to int64, truncating fractions.
func AsInt(v any) (int64, bool) {
	return toInt64(v)
}
