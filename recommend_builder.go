package itemrec

import (
	"context"
	"fmt"
)

// Hit is a typed recommendation.
type Hit[T any] struct {
	Item  T
	Score float64
	Rank  int
}

// RecommendBuilder is a fluent builder for typed recommendation queries.
type RecommendBuilder[T any] struct {
	idx *TypedIndex[T]

	id     string
	text   string
	isText bool

	limit int
}

// Limit sets the number of results. 0 means the configured default.
func (b *RecommendBuilder[T]) Limit(n int) *RecommendBuilder[T] {
	b.limit = n
	return b
}

// Do runs the pipeline and resolves every recommended id to a typed item.
func (b *RecommendBuilder[T]) Do(ctx context.Context) ([]Hit[T], error) {
	res, err := b.Result(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit[T], 0, len(res.Recommendations))
	for _, r := range res.Recommendations {
		it, err := b.idx.rec.Get(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", r.ID, err)
		}
		typed, err := b.idx.decode(it)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit[T]{Item: typed, Score: r.Score, Rank: r.Rank})
	}
	return hits, nil
}

// Result runs the pipeline and returns the untyped result with provenance.
func (b *RecommendBuilder[T]) Result(ctx context.Context) (Result, error) {
	if b.isText {
		res, err := b.idx.rec.RecommendText(ctx, b.text, b.limit)
		if err != nil {
			return Result{}, fmt.Errorf("recommend text: %w", err)
		}
		return res, nil
	}
	res, err := b.idx.rec.Recommend(ctx, b.id, b.limit)
	if err != nil {
		return Result{}, fmt.Errorf("recommend %s: %w", b.id, err)
	}
	return res, nil
}
