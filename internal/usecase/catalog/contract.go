package catalog

import (
	"context"

	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

// Repository defines the storage contract for item metadata.
type Repository interface {
	// Upsert replaces every given item as a whole (latest write wins).
	Upsert(ctx context.Context, deployment string, items []item.Item) error
	// Get returns domain.ErrItemNotFound for unknown ids.
	Get(ctx context.Context, deployment, id string) (item.Item, error)
	// List returns every item of a deployment ordered by id.
	List(ctx context.Context, deployment string) ([]item.Item, error)
	Count(ctx context.Context, deployment string) (int, error)
}
