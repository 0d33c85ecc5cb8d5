package indexer

import (
	"context"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// Source lists the corpus of a deployment.
type Source interface {
	Items(ctx context.Context) ([]item.Item, error)
}

// Encoder embeds document text in batches.
type Encoder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Info() domain.EncoderInfo
}

// ArtifactStore persists snapshots between runs.
type ArtifactStore interface {
	Save(ctx context.Context, s *index.Snapshot) error
	Load(ctx context.Context, expect *domain.EncoderInfo) (*index.Snapshot, error)
	Location() string
}

// Mirror copies a snapshot to an external search engine before readers see it.
type Mirror interface {
	Publish(ctx context.Context, deployment string, snap *index.Snapshot) error
}
