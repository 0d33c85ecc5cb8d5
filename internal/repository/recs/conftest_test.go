package recs

import (
	"context"
	"path"
	"slices"
	"sort"

	"github.com/kailas-cloud/itemrec/internal/db"
)

// memStore is an in-memory sorted set store with glob SCAN; members are kept in rank order.
type memStore struct {
	sets    map[string][]string
	scanErr error
}

func newMemStore() *memStore { return &memStore{sets: map[string][]string{}} }

func (m *memStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	members := m.sets[key]
	n := int64(len(members))
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}
	return slices.Clone(members[start : stop+1]), nil
}

func (m *memStore) ZMemberMulti(_ context.Context, keys []string, member string) ([]bool, error) {
	out := make([]bool, len(keys))
	for i, k := range keys {
		out[i] = slices.Contains(m.sets[k], member)
	}
	return out, nil
}

func (m *memStore) ReplaceSortedSets(_ context.Context, items []db.SortedSetItem) error {
	for _, it := range items {
		delete(m.sets, it.Key)
		if len(it.Members) > 0 {
			m.sets[it.Key] = slices.Clone(it.Members)
		}
	}
	return nil
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []string
	for k := range m.sets {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
