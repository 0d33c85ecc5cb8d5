package precompute

import (
	"context"

	"github.com/kailas-cloud/itemrec/internal/domain/recommend/request"
	"github.com/kailas-cloud/itemrec/internal/usecase/pipeline"
)

// Recommender runs the online pipeline for one item.
type Recommender interface {
	Recommend(ctx context.Context, q request.Query, kPool, nResults int) (pipeline.Response, error)
	Deployment() string
}

// Store publishes and reads recommendation lists.
type Store interface {
	Replace(ctx context.Context, deployment string, lists map[string][]string) error
	Get(ctx context.Context, deployment, id string, limit int) ([]string, bool, error)
	Items(ctx context.Context, deployment string) ([]string, error)
	Deployments(ctx context.Context) ([]string, error)
	Referrers(ctx context.Context, deployment, id string) ([]string, error)
}
