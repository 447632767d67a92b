package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/docstore"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Direct implements Store on top of an in-process docstore.Store, for one
// user and one device.
type Direct struct {
	store    *docstore.Store
	userID   string
	deviceID string
}

// NewDirect returns a Store that acts as deviceID of userID.
func NewDirect(store *docstore.Store, userID, deviceID string) *Direct {
	return &Direct{store: store, userID: userID, deviceID: deviceID}
}

func (d *Direct) check(userID string) error {
	if d.userID == "" {
		return ErrUnauthorized
	}
	if userID != d.userID {
		return fmt.Errorf("%w: tenant %s", ErrForbidden, userID)
	}
	return nil
}

// Authenticate implements Store.
func (d *Direct) Authenticate(ctx context.Context) (string, error) {
	if d.userID == "" {
		return "", ErrUnauthorized
	}
	return d.userID, ctx.Err()
}

// Fetch implements Store.
func (d *Direct) Fetch(ctx context.Context, userID string) (schema.Snapshot, error) {
	if err := d.check(userID); err != nil {
		return schema.Snapshot{}, err
	}

	docs, err := d.store.List(ctx, userID, docstore.CollectionRecords)
	if err != nil {
		return schema.Snapshot{}, err
	}
	raw := make(map[string]json.RawMessage, len(docs))
	for _, doc := range docs {
		raw[doc.Path.ID] = doc.Data
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		return schema.Snapshot{}, err
	}

	snap := schema.Snapshot{Records: records}
	doc, err := d.store.Get(ctx, docstore.MetaPath(userID, schema.MetaConfigID))
	switch {
	case errors.Is(err, docstore.ErrNotFound):
	case err != nil:
		return schema.Snapshot{}, err
	default:
		if err := json.Unmarshal(doc.Data, &snap.Metadata); err != nil {
			return schema.Snapshot{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return snap, nil
}

// PutRecords implements Store.
func (d *Direct) PutRecords(ctx context.Context, userID string, records map[string]*schema.Record) error {
	if err := d.check(userID); err != nil {
		return err
	}
	encoded, err := EncodeRecords(records)
	if err != nil {
		return err
	}

	docs := make([]docstore.Document, 0, len(encoded))
	for key, data := range encoded {
		docs = append(docs, docstore.Document{
			Path:         docstore.RecordPath(userID, key),
			Data:         data,
			LastModified: records[key].LastModified,
		})
	}
	return d.store.Put(ctx, d.deviceID, docs...)
}

// PutMeta implements Store.
func (d *Direct) PutMeta(ctx context.Context, userID string, meta schema.Metadata) error {
	if err := d.check(userID); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return d.store.Put(ctx, d.deviceID, docstore.Document{
		Path:         docstore.MetaPath(userID, schema.MetaConfigID),
		Data:         data,
		LastModified: meta.LastModified,
	})
}

// GetProfile implements Store.
func (d *Direct) GetProfile(ctx context.Context, userID string) (*schema.Record, error) {
	if err := d.check(userID); err != nil {
		return nil, err
	}
	doc, err := d.store.Get(ctx, docstore.MetaPath(userID, schema.MetaProfileID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var profile schema.Record
	if err := json.Unmarshal(doc.Data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// PutProfile implements Store.
func (d *Direct) PutProfile(ctx context.Context, userID string, profile *schema.Record) error {
	if err := d.check(userID); err != nil {
		return err
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return d.store.Put(ctx, d.deviceID, docstore.Document{
		Path:         docstore.MetaPath(userID, schema.MetaProfileID),
		Data:         data,
		LastModified: profile.LastModified,
	})
}

// Subscribe implements Store.
func (d *Direct) Subscribe(ctx context.Context, userID string, fn func(Batch)) (Subscription, error) {
	if err := d.check(userID); err != nil {
		return nil, err
	}

	w, initial, err := d.store.Snapshot(ctx, userID, docstore.CollectionRecords)
	if err != nil {
		return nil, err
	}

	loop := func(ctx context.Context) error {
		if !d.deliver(ctx, initial, fn) {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case b, ok := <-w.C:
				if !ok {
					return fmt.Errorf("document store closed the change feed")
				}
				if !d.deliver(ctx, b, fn) {
					return nil
				}
			}
		}
	}
	return startSubscription(context.WithoutCancel(ctx), loop, w.Close), nil
}

func (d *Direct) deliver(ctx context.Context, b docstore.Batch, fn func(Batch)) bool {
	wb := WireBatch{Origin: b.Origin, Initial: b.Initial}
	for _, c := range b.Changes {
		wb.Changes = append(wb.Changes, WireChange{
			Type:       ChangeType(c.Type),
			Collection: c.Document.Path.Collection,
			ID:         c.Document.Path.ID,
			Data:       c.Document.Data,
		})
	}
	batch, _ := DecodeBatch(wb, d.deviceID)
	if ctx.Err() != nil {
		return false
	}
	fn(batch)
	return true
}

// Reset implements Store.
func (d *Direct) Reset(ctx context.Context, userID string) error {
	if err := d.check(userID); err != nil {
		return err
	}
	_, err := d.store.DeleteTenant(ctx, userID, d.deviceID)
	return err
}
