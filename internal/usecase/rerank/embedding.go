package rerank

import (
	"context"
	"fmt"
)

// BatchEncoder produces unit-length embeddings in input order.
type BatchEncoder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedding scores by cosine between full-text embeddings of query and document.
// The encoder may differ from the one the dense index was built with.
type Embedding struct {
	enc BatchEncoder
}

// NewEmbedding creates an embedding scorer.
func NewEmbedding(enc BatchEncoder) *Embedding {
	return &Embedding{enc: enc}
}

// Name implements Scorer.
func (e *Embedding) Name() string { return "embedding" }

// Score implements Scorer.
func (e *Embedding) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, 0, len(docs)+1)
	texts = append(texts, query)
	texts = append(texts, docs...)

	vecs, err := e.enc.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding scorer: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding scorer: got %d vectors for %d texts", len(vecs), len(texts))
	}

	q := vecs[0]
	out := make([]float64, len(docs))
	for i, v := range vecs[1:] {
		if len(v) != len(q) {
			return nil, fmt.Errorf("embedding scorer: vector %d has %d dimensions, query has %d", i, len(v), len(q))
		}
		var s float64
		for j := range q {
			s += float64(q[j]) * float64(v[j])
		}
		out[i] = s
	}
	return out, nil
}
