package schema

// MetaConfigID is the document id of the per-user metadata document.
const MetaConfigID = "config"

// MetaProfileID is the document id of the per-user profile document.
const MetaProfileID = "profile"

// WeeklyReview is the free-text review a user writes for one week.
// An empty field is treated as absent when reviews are merged.
type WeeklyReview struct {
	Worked string `json:"worked,omitempty" yaml:"worked,omitempty"`
	Didnt  string `json:"didnt,omitempty" yaml:"didnt,omitempty"`
	Adjust string `json:"adjust,omitempty" yaml:"adjust,omitempty"`
	Date   string `json:"date,omitempty" yaml:"date,omitempty"`
}

// IsZero reports whether every field is empty.
func (w WeeklyReview) IsZero() bool {
	return w == WeeklyReview{}
}

// Metadata is the per-user aggregate document stored beside the day records.
type Metadata struct {
	StartDate     string                  `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	WeeklyReviews map[string]WeeklyReview `json:"weeklyReviews,omitempty" yaml:"weeklyReviews,omitempty"`
	Timezone      string                  `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	LastModified  int64                   `json:"lastModified,omitempty" yaml:"lastModified,omitempty"`
}

// IsZero reports whether the document carries no data at all.
func (m Metadata) IsZero() bool {
	return m.StartDate == "" && len(m.WeeklyReviews) == 0 && m.Timezone == "" && m.LastModified == 0
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	if m.WeeklyReviews != nil {
		out.WeeklyReviews = make(map[string]WeeklyReview, len(m.WeeklyReviews))
		for k, v := range m.WeeklyReviews {
			out.WeeklyReviews[k] = v
		}
	}
	return out
}

// Equal compares two metadata documents field by field.
func (m Metadata) Equal(other Metadata) bool {
	if m.StartDate != other.StartDate || m.Timezone != other.Timezone || m.LastModified != other.LastModified {
		return false
	}
	if len(m.WeeklyReviews) != len(other.WeeklyReviews) {
		return false
	}
	for k, v := range m.WeeklyReviews {
		if ov, ok := other.WeeklyReviews[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
