package pipeline

import (
	"context"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/candidate"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/usecase/rerank"
	"github.com/kailas-cloud/itemrec/internal/usecase/retrieval"
)

// Catalog resolves an item id to its normalized document.
type Catalog interface {
	Document(ctx context.Context, id string) (string, error)
}

// Encoder embeds query text.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Info() domain.EncoderInfo
}

// Generator produces the candidate pool.
type Generator interface {
	Generate(ctx context.Context, p retrieval.Lookup, snap *index.Snapshot, k int) ([]candidate.Candidate, []string, error)
}

// Reranker orders the candidate pool.
type Reranker interface {
	Rerank(ctx context.Context, query string, snap *index.Snapshot, pool []candidate.Candidate, n int) (rerank.Outcome, error)
	Scorer() string
}

// Snapshots returns the live index snapshot.
type Snapshots interface {
	Load() *index.Snapshot
}
