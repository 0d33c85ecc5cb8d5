// Package recs stores precomputed recommendation lists as Redis sorted sets.
package recs

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/itemrec/internal/db"
)

// Placeholder marks a published empty list; a missing set means "never published".
// A list member's score is its 1-based rank.
const Placeholder = ""

// store is the consumer interface for recommendation sets (ISP).
type store interface {
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZMemberMulti(ctx context.Context, keys []string, member string) ([]bool, error)
	ReplaceSortedSets(ctx context.Context, items []db.SortedSetItem) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo keeps one sorted set per item under <prefix>recs:<deployment>:<item_id>.
type Repo struct {
	store  store
	prefix string
}

// New creates a recommendation set repository.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix + "recs:"}
}

// Replace overwrites the lists of the given items.
func (r *Repo) Replace(ctx context.Context, deployment string, lists map[string][]string) error {
	if len(lists) == 0 {
		return nil
	}
	ids := make([]string, 0, len(lists))
	for id := range lists {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	items := make([]db.SortedSetItem, len(ids))
	for i, id := range ids {
		members := lists[id]
		if len(members) == 0 {
			members = []string{Placeholder}
		}
		items[i] = db.SortedSetItem{Key: r.key(deployment, id), Members: members}
	}
	if err := r.store.ReplaceSortedSets(ctx, items); err != nil {
		return fmt.Errorf("replace recommendation sets %s: %w", deployment, err)
	}
	return nil
}

// Get returns the first limit entries of an item's published list in rank
// order; limit <= 0 reads the whole list. ok is false when nothing was published for it.
func (r *Repo) Get(ctx context.Context, deployment, id string, limit int) (ids []string, ok bool, err error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := r.store.ZRange(ctx, r.key(deployment, id), 0, stop)
	if err != nil {
		return nil, false, fmt.Errorf("zrange %s/%s: %w", deployment, id, err)
	}
	if len(members) == 0 {
		return nil, false, nil
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != Placeholder {
			out = append(out, m)
		}
	}
	return out, true, nil
}

// Items lists the items with a published list.
func (r *Repo) Items(ctx context.Context, deployment string) ([]string, error) {
	keys, err := r.scan(ctx, deployment)
	if err != nil {
		return nil, err
	}
	prefix := r.key(deployment, "")
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, prefix)
	}
	return out, nil
}

// Deployments lists the deployments with at least one published list.
func (r *Repo) Deployments(ctx context.Context) ([]string, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan recommendation sets: %w", err)
	}
	out := make([]string, 0)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, r.prefix)
		name, _, found := strings.Cut(rest, ":")
		if found && name != "" {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Referrers lists the items whose published list contains id.
func (r *Repo) Referrers(ctx context.Context, deployment, id string) ([]string, error) {
	keys, err := r.scan(ctx, deployment)
	if err != nil {
		return nil, err
	}
	hits, err := r.store.ZMemberMulti(ctx, keys, id)
	if err != nil {
		return nil, fmt.Errorf("zscore %s/%s: %w", deployment, id, err)
	}
	prefix := r.key(deployment, "")
	out := make([]string, 0)
	for i, hit := range hits {
		if hit {
			out = append(out, strings.TrimPrefix(keys[i], prefix))
		}
	}
	return out, nil
}

func (r *Repo) scan(ctx context.Context, deployment string) ([]string, error) {
	keys, err := r.store.Scan(ctx, r.key(deployment, "*"))
	if err != nil {
		return nil, fmt.Errorf("scan recommendation sets %s: %w", deployment, err)
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func (r *Repo) key(deployment, id string) string {
	return r.prefix + deployment + ":" + id
}
