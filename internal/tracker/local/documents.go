package local

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Photos returns the local-only photo list. A corrupted list reads as empty.
func (s *Store) Photos(ctx context.Context) ([]schema.Photo, error) {
	data, found, err := s.Get(ctx, PhotosKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return []schema.Photo{}, nil
	}

	var photos []schema.Photo
	if err := json.Unmarshal(data, &photos); err != nil {
		s.logger.Warn("stored photo list is corrupted, treating as empty", "err", err)
		return []schema.Photo{}, nil
	}
	return photos, nil
}

// SavePhotos overwrites the photo list.
func (s *Store) SavePhotos(ctx context.Context, photos []schema.Photo) error {
	data, err := json.Marshal(photos)
	if err != nil {
		return fmt.Errorf("failed to encode photos: %w", err)
	}
	return s.Put(ctx, PhotosKey, data)
}

// AddPhoto appends one photo to the list.
func (s *Store) AddPhoto(ctx context.Context, photo schema.Photo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	photos, err := s.Photos(ctx)
	if err != nil {
		return err
	}
	return s.SavePhotos(ctx, append(photos, photo))
}

// Profile returns the cached profile document, or nil when none is stored.
func (s *Store) Profile(ctx context.Context) (*schema.Record, error) {
	data, found, err := s.Get(ctx, ProfileKey)
	if err != nil || !found {
		return nil, err
	}

	var profile schema.Record
	if err := json.Unmarshal(data, &profile); err != nil {
		s.logger.Warn("stored profile is corrupted, ignoring", "err", err)
		return nil, nil
	}
	return &profile, nil
}

// SaveProfile overwrites the cached profile document.
func (s *Store) SaveProfile(ctx context.Context, profile *schema.Record) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return s.Put(ctx, ProfileKey, data)
}
