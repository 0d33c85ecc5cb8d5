package itemrec

import (
	"context"
	"fmt"
)

// TypedIndex is a generic, schema-first view of a Recommender.
// Schema is inferred from T's struct tags at construction time.
type TypedIndex[T any] struct {
	rec  *Recommender
	meta *schemaMeta
}

// NewIndex creates a typed handle over rec.
// T must be a struct with itemrec tags. Schema is parsed once and cached.
func NewIndex[T any](rec *Recommender) (*TypedIndex[T], error) {
	meta, err := parseSchema[T]()
	if err != nil {
		return nil, fmt.Errorf("new index: %w", err)
	}
	return &TypedIndex[T]{rec: rec, meta: meta}, nil
}

// Add ingests typed items. Returns the number ingested.
func (idx *TypedIndex[T]) Add(ctx context.Context, items ...T) (int, error) {
	converted := make([]Item, len(items))
	for i, it := range items {
		converted[i] = idx.meta.toItem(it)
	}
	return idx.rec.Add(ctx, converted...)
}

// Get retrieves a typed item by ID.
func (idx *TypedIndex[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	it, err := idx.rec.Get(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("get: %w", err)
	}
	return idx.decode(it)
}

// Count returns the number of ingested items.
func (idx *TypedIndex[T]) Count(ctx context.Context) (int, error) {
	return idx.rec.Count(ctx)
}

// Similar returns a fluent builder for items related to an indexed item.
func (idx *TypedIndex[T]) Similar(id string) *RecommendBuilder[T] {
	return &RecommendBuilder[T]{idx: idx, id: id}
}

// Like returns a fluent builder for items related to ad-hoc text.
func (idx *TypedIndex[T]) Like(text string) *RecommendBuilder[T] {
	return &RecommendBuilder[T]{idx: idx, text: text, isText: true}
}

func (idx *TypedIndex[T]) decode(it Item) (T, error) {
	var zero T
	v, err := idx.meta.fromItem(it)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("decode %s: type assertion failed", it.ID)
	}
	return typed, nil
}
