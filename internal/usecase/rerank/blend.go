package rerank

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// Component is one weighted scorer inside a Blend.
type Component struct {
	Scorer Scorer
	Weight float64
}

// Blend is a weighted sum of other scorers. Any component failure fails the batch.
type Blend struct {
	components []Component
}

// NewBlend validates weights: at least one component, none negative, sum positive.
func NewBlend(components ...Component) (*Blend, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("blend needs at least one scorer: %w", domain.ErrConfiguration)
	}
	var sum float64
	for _, c := range components {
		if c.Scorer == nil {
			return nil, fmt.Errorf("blend component without scorer: %w", domain.ErrConfiguration)
		}
		if c.Weight < 0 {
			return nil, fmt.Errorf("blend weight for %s is negative: %w", c.Scorer.Name(), domain.ErrConfiguration)
		}
		sum += c.Weight
	}
	if sum <= 0 {
		return nil, fmt.Errorf("blend weights sum to zero: %w", domain.ErrConfiguration)
	}
	return &Blend{components: components}, nil
}

// Name implements Scorer.
func (b *Blend) Name() string { return "blend" }

func (b *Blend) bind(lex *index.Lexical) Scorer {
	bound := make([]Component, len(b.components))
	for i, c := range b.components {
		bound[i] = Component{Scorer: bindStats(c.Scorer, lex), Weight: c.Weight}
	}
	return &Blend{components: bound}
}

// Score implements Scorer.
func (b *Blend) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	out := make([]float64, len(docs))
	for _, c := range b.components {
		if c.Weight == 0 {
			continue
		}
		scores, err := c.Scorer.Score(ctx, query, docs)
		if err != nil {
			return nil, fmt.Errorf("blend %s: %w", c.Scorer.Name(), err)
		}
		if len(scores) != len(docs) {
			return nil, fmt.Errorf("blend %s: got %d scores for %d docs", c.Scorer.Name(), len(scores), len(docs))
		}
		for i, s := range scores {
			out[i] += c.Weight * s
		}
	}
	return out, nil
}
