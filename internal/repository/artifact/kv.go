package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/itemrec/internal/db"
	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// kvStore is the consumer interface for artifact blobs (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// KV keeps one artifact as a single Redis string, so every replica of a
// deployment loads the same snapshot.
type KV struct {
	store kvStore
	key   string
}

// NewKV creates a key-value artifact store under <prefix>artifacts:<name>.
func NewKV(s kvStore, keyPrefix, name string) *KV {
	return &KV{store: s, key: keyPrefix + "artifacts:" + name}
}

// Location returns the artifact key.
func (k *KV) Location() string { return k.key }

// Save implements the artifact store contract. SET replaces the value atomically.
func (k *KV) Save(ctx context.Context, s *index.Snapshot) error {
	data, err := index.EncodeBytes(s)
	if err != nil {
		return err
	}
	if err := k.store.Set(ctx, k.key, data); err != nil {
		return fmt.Errorf("set artifact %s: %w", k.key, err)
	}
	return nil
}

// Load implements the artifact store contract.
func (k *KV) Load(ctx context.Context, expect *domain.EncoderInfo) (*index.Snapshot, error) {
	data, err := k.store.Get(ctx, k.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("artifact %s not found: %w", k.key, domain.ErrIndexUnavailable)
		}
		return nil, fmt.Errorf("get artifact %s: %w", k.key, err)
	}
	s, err := index.Decode(data, expect)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", k.key, err)
	}
	return s, nil
}
