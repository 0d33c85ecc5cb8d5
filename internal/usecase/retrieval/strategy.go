package retrieval

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// Lookup is the query as seen by retrieval strategies.
type Lookup struct {
	ItemID string    // indexed query item, never returned; empty for ad-hoc text
	Text   string    // normalized query document
	Vector []float32 // nil when no embedding was produced
}

// Strategy queries one index backend of a snapshot.
// The boolean result reports whether the backend was available.
type Strategy interface {
	Backend() backend.Backend
	Retrieve(ctx context.Context, p Lookup, snap *index.Snapshot, k int) ([]index.Hit, bool, error)
}

// SearchIndex answers dense and lexical queries from an external search
// engine holding the live snapshot of a deployment.
type SearchIndex interface {
	SearchKNN(ctx context.Context, deployment string, vec []float32, k int, exclude string) ([]index.Hit, error)
	SearchBM25(ctx context.Context, deployment, text string, k int, exclude string) ([]index.Hit, error)
}

// NewStrategy returns the in-process strategy for a backend.
func NewStrategy(b backend.Backend) (Strategy, error) {
	switch b {
	case backend.Dense:
		return denseStrategy{}, nil
	case backend.Lexical:
		return lexicalStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", b)
	}
}

// NewSearchStrategy returns the strategy for a backend served by a search index.
func NewSearchStrategy(b backend.Backend, idx SearchIndex, deployment string) (Strategy, error) {
	if idx == nil {
		return nil, fmt.Errorf("search strategy %q: no search index", b)
	}
	switch b {
	case backend.Dense:
		return searchDenseStrategy{idx: idx, deployment: deployment}, nil
	case backend.Lexical:
		return searchLexicalStrategy{idx: idx, deployment: deployment}, nil
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", b)
	}
}

type denseStrategy struct{}

func (denseStrategy) Backend() backend.Backend { return backend.Dense }

func (denseStrategy) Retrieve(ctx context.Context, p Lookup, snap *index.Snapshot, k int) ([]index.Hit, bool, error) {
	d := snap.Dense()
	if d == nil || p.Vector == nil {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}
	hits, err := d.Query(p.Vector, k, p.ItemID)
	if err != nil {
		return nil, true, fmt.Errorf("dense query: %w", err)
	}
	return hits, true, nil
}

type lexicalStrategy struct{}

func (lexicalStrategy) Backend() backend.Backend { return backend.Lexical }

func (lexicalStrategy) Retrieve(ctx context.Context, p Lookup, snap *index.Snapshot, k int) ([]index.Hit, bool, error) {
	l := snap.Lexical()
	if l == nil {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}
	return l.Query(p.Text, k, p.ItemID), true, nil
}

// searchDenseStrategy runs KNN in the search index. The snapshot only decides
// availability: a snapshot built without the dense backend has nothing mirrored.
type searchDenseStrategy struct {
	idx        SearchIndex
	deployment string
}

func (searchDenseStrategy) Backend() backend.Backend { return backend.Dense }

func (s searchDenseStrategy) Retrieve(ctx context.Context, p Lookup, snap *index.Snapshot, k int) ([]index.Hit, bool, error) {
	if snap.Dense() == nil || p.Vector == nil {
		return nil, false, nil
	}
	hits, err := s.idx.SearchKNN(ctx, s.deployment, p.Vector, k, p.ItemID)
	if err != nil {
		return nil, true, err
	}
	return hits, true, nil
}

type searchLexicalStrategy struct {
	idx        SearchIndex
	deployment string
}

func (searchLexicalStrategy) Backend() backend.Backend { return backend.Lexical }

func (s searchLexicalStrategy) Retrieve(ctx context.Context, p Lookup, snap *index.Snapshot, k int) ([]index.Hit, bool, error) {
	if snap.Lexical() == nil {
		return nil, false, nil
	}
	hits, err := s.idx.SearchBM25(ctx, s.deployment, p.Text, k, p.ItemID)
	if err != nil {
		return nil, true, err
	}
	return hits, true, nil
}
