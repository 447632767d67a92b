package schema

import "sort"

// Snapshot is everything one user has tracked: all day records plus the
// metadata document. It is the value held under the tracker key of the
// local store and the result of a full remote fetch.
type Snapshot struct {
	Records  map[string]*Record `json:"records"`
	Metadata Metadata           `json:"metadata"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{Records: make(map[string]*Record)}
}

// Record returns the stored record for key, or nil.
func (s Snapshot) Record(key string) *Record {
	if s.Records == nil {
		return nil
	}
	return s.Records[key]
}

// GetOrDefault returns a copy of the stored record for key, or the default
// record when the day has never been saved. The snapshot is not modified.
func (s Snapshot) GetOrDefault(key string) *Record {
	if rec := s.Record(key); rec != nil {
		return rec.Clone()
	}
	return DefaultRecord()
}

// Keys returns the record keys in ascending order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Records))
	for k, rec := range s.Records {
		if rec != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Records:  make(map[string]*Record, len(s.Records)),
		Metadata: s.Metadata.Clone(),
	}
	for k, rec := range s.Records {
		if rec != nil {
			out.Records[k] = rec.Clone()
		}
	}
	return out
}

// Equal reports whether both snapshots hold the same records and metadata.
func (s Snapshot) Equal(other Snapshot) bool {
	if !s.Metadata.Equal(other.Metadata) {
		return false
	}
	a, b := s.Keys(), other.Keys()
	if len(a) != len(b) {
		return false
	}
	for i, k := range a {
		if b[i] != k || !s.Records[k].Equal(other.Records[k]) {
			return false
		}
	}
	return true
}

// Normalize drops nil entries and allocates the record map.
func (s *Snapshot) Normalize() {
	if s.Records == nil {
		s.Records = make(map[string]*Record)
	}
	for k, rec := range s.Records {
		if rec == nil {
			delete(s.Records, k)
		}
	}
}
