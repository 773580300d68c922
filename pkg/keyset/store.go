package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrSnapshotNotFound is returned by a [Store] that holds no snapshot.
var ErrSnapshotNotFound = errors.New("keyset: snapshot not found")

// Store is a shared snapshot tier that lets several gateway replicas
// reuse one fetch. A stored snapshot keeps its original FetchedAt, so the
// cache's TTL still applies to it.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

type storedSnapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	Keys      []Key     `json:"keys"`
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	keys := snap.Set.Keys()
	if keys == nil {
		keys = []Key{}
	}
	return json.Marshal(storedSnapshot{FetchedAt: snap.FetchedAt.UTC(), Keys: keys})
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var stored storedSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return Snapshot{}, err
	}
	if stored.Keys == nil || stored.FetchedAt.IsZero() {
		return Snapshot{}, errors.New("keyset: stored snapshot is incomplete")
	}
	return Snapshot{Set: &KeySet{keys: stored.Keys}, FetchedAt: stored.FetchedAt}, nil
}

// TieredStore combines several stores, typically Redis in front of an
// object bucket. Load returns the newest snapshot any tier holds; Save
// writes every tier.
type TieredStore struct {
	tiers []Store
}

// NewTieredStore returns a store over the non-nil tiers, in order.
func NewTieredStore(tiers ...Store) *TieredStore {
	t := &TieredStore{}
	for _, s := range tiers {
		if s != nil {
			t.tiers = append(t.tiers, s)
		}
	}
	return t
}

// Len returns the number of tiers.
func (t *TieredStore) Len() int { return len(t.tiers) }

// Load reads every tier. Tier failures are returned only when no tier
// produced a snapshot.
func (t *TieredStore) Load(ctx context.Context) (Snapshot, error) {
	var (
		best  Snapshot
		found bool
		errs  []error
	)
	for _, s := range t.tiers {
		snap, err := s.Load(ctx)
		if err != nil {
			if !errors.Is(err, ErrSnapshotNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		if !found || snap.FetchedAt.After(best.FetchedAt) {
			best, found = snap, true
		}
	}
	if found {
		return best, nil
	}
	if len(errs) > 0 {
		return Snapshot{}, errors.Join(errs...)
	}
	return Snapshot{}, ErrSnapshotNotFound
}

// Save writes snap to every tier and joins the failures.
func (t *TieredStore) Save(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, s := range t.tiers {
		if err := s.Save(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
