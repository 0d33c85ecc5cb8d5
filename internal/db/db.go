package db

import (
	"context"
	"time"
)

// Store is the main database facade combining all sub-interfaces.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	HashStore
	KVStore
	SortedSetStore
	SearchStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashSetItem holds a single key+fields pair for pipelined HSET.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// HashStore provides hash-based key-value operations.
type HashStore interface {
	HSetMulti(ctx context.Context, items []HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SortedSetItem holds a key and its members in rank order for pipelined replacement.
type SortedSetItem struct {
	Key     string
	Members []string
}

// SortedSetStore provides rank-ordered string set operations.
type SortedSetStore interface {
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZMemberMulti(ctx context.Context, keys []string, member string) ([]bool, error)
	ReplaceSortedSets(ctx context.Context, items []SortedSetItem) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// SearchStore manages FT indexes over hashes and queries them.
type SearchStore interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	// DropIndex removes an index; with deleteDocs the indexed hashes go too.
	DropIndex(ctx context.Context, name string, deleteDocs bool) error
	// UpdateAlias points alias at index, creating the alias when missing.
	UpdateAlias(ctx context.Context, alias, index string) error
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchBM25(ctx context.Context, q *TextQuery) (*SearchResult, error)
}
