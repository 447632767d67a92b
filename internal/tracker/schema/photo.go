package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Photo is a progress-photo attachment. Photos live only in the local store.
type Photo struct {
	ID      string `json:"id" yaml:"id"`
	Date    string `json:"date" yaml:"date"`
	Path    string `json:"path" yaml:"path"`
	Caption string `json:"caption,omitempty" yaml:"caption,omitempty"`
	AddedAt int64  `json:"addedAt" yaml:"addedAt"`
}

// NewPhoto creates a photo entry for the given day.
func NewPhoto(date, path, caption string, now time.Time) (Photo, error) {
	if _, err := ParseDateKey(date, time.UTC); err != nil {
		return Photo{}, err
	}
	if path == "" {
		return Photo{}, fmt.Errorf("photo path is required")
	}
	return Photo{
		ID:      uuid.NewString(),
		Date:    date,
		Path:    path,
		Caption: caption,
		AddedAt: now.UnixMilli(),
	}, nil
}
