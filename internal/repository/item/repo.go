// Package item stores item metadata in memory or in Redis hashes.
package item

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/itemrec/internal/db"
	"github.com/kailas-cloud/itemrec/internal/domain"
	domitem "github.com/kailas-cloud/itemrec/internal/domain/item"
)

const (
	domainField = "__domain"
	fieldPrefix = "f:"
)

// store is the consumer interface for item hashes (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo keeps one hash per item under <prefix>items:<deployment>:<id>.
type Repo struct {
	store  store
	prefix string
}

// New creates a Redis-backed item repository.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix}
}

// Upsert implements catalog.Repository. Each hash is deleted and rewritten, so
// fields dropped by a newer version of an item do not survive.
func (r *Repo) Upsert(ctx context.Context, deployment string, items []domitem.Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := make([]db.HashSetItem, len(items))
	for i, it := range items {
		batch[i] = db.HashSetItem{Key: r.key(deployment, it.ID()), Fields: buildHashFields(it)}
	}
	if err := r.store.HSetMulti(ctx, batch); err != nil {
		return fmt.Errorf("hset items %s: %w", deployment, err)
	}
	return nil
}

// Get implements catalog.Repository.
func (r *Repo) Get(ctx context.Context, deployment, id string) (domitem.Item, error) {
	key := r.key(deployment, id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domitem.Item{}, fmt.Errorf("item %q: %w", id, domain.ErrItemNotFound)
		}
		return domitem.Item{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return parseHashFields(id, m), nil
}

// List implements catalog.Repository.
func (r *Repo) List(ctx context.Context, deployment string) ([]domitem.Item, error) {
	keys, err := r.store.Scan(ctx, r.key(deployment, "*"))
	if err != nil {
		return nil, fmt.Errorf("scan items %s: %w", deployment, err)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall items %s: %w", deployment, err)
	}

	prefix := r.key(deployment, "")
	out := make([]domitem.Item, 0, len(keys))
	for i, m := range maps {
		if m == nil {
			continue // удалён между SCAN и HGETALL
		}
		out = append(out, parseHashFields(strings.TrimPrefix(keys[i], prefix), m))
	}
	slices.SortFunc(out, func(a, b domitem.Item) int { return cmp.Compare(a.ID(), b.ID()) })
	return out, nil
}

// Count implements catalog.Repository.
func (r *Repo) Count(ctx context.Context, deployment string) (int, error) {
	keys, err := r.store.Scan(ctx, r.key(deployment, "*"))
	if err != nil {
		return 0, fmt.Errorf("scan items %s: %w", deployment, err)
	}
	slices.Sort(keys)
	return len(slices.Compact(keys)), nil
}

func (r *Repo) key(deployment, id string) string {
	return r.prefix + "items:" + deployment + ":" + id
}

// buildHashFields flattens an item into a hash. Text fields get a prefix so
// they can never collide with bookkeeping fields.
func buildHashFields(it domitem.Item) map[string]string {
	fields := it.Fields()
	m := make(map[string]string, len(fields)+1)
	m[domainField] = it.Domain()
	for k, v := range fields {
		m[fieldPrefix+k] = v
	}
	return m
}

func parseHashFields(id string, m map[string]string) domitem.Item {
	fields := make(map[string]string, len(m))
	var domainTag string
	for k, v := range m {
		switch {
		case k == domainField:
			domainTag = v
		case strings.HasPrefix(k, fieldPrefix):
			fields[strings.TrimPrefix(k, fieldPrefix)] = v
		}
	}
	return domitem.Reconstruct(id, fields, domainTag)
}
