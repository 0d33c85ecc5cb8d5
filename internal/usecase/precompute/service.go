// Package precompute computes top-N lists for a whole corpus offline and
// publishes them for constant-time lookups.
package precompute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/request"
)

// DefaultConcurrency bounds parallel pipeline runs.
const DefaultConcurrency = 8

// Report summarizes one precompute run.
type Report struct {
	Deployment string
	Items      int
	Published  int
	Failed     map[string]string // item id -> error kind
	Lists      map[string][]string
	Took       time.Duration
}

// Service publishes precomputed recommendation lists.
type Service struct {
	store       Store
	concurrency int
	logger      *zap.Logger
}

// New creates a precompute service.
func New(store Store, concurrency int, logger *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{store: store, concurrency: concurrency, logger: logger}
}

// Run computes the lists for every id and publishes them. Nothing is
// published when Compute fails.
func (s *Service) Run(ctx context.Context, rec Recommender, ids []string, kPool, nResults int) (Report, error) {
	rep, err := s.Compute(ctx, rec, ids, kPool, nResults)
	if err != nil {
		return rep, err
	}

	if err := s.Publish(ctx, rep.Deployment, rep.Lists); err != nil {
		return rep, err
	}
	rep.Published = len(rep.Lists)

	s.logger.Info("precompute published",
		zap.String("deployment", rep.Deployment),
		zap.Int("items", rep.Items),
		zap.Int("failed", len(rep.Failed)),
		zap.Duration("took", rep.Took),
	)
	return rep, nil
}

// Compute recommends for every id. Items that fail with an input error (e.g. no
// text) get an empty list; any other failure aborts the whole computation.
func (s *Service) Compute(ctx context.Context, rec Recommender, ids []string, kPool, nResults int) (Report, error) {
	start := time.Now()
	rep := Report{
		Deployment: rec.Deployment(),
		Items:      len(ids),
		Failed:     make(map[string]string),
		Lists:      make(map[string][]string, len(ids)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			q, err := request.NewItemQuery(id)
			if err != nil {
				return err
			}
			resp, err := rec.Recommend(gctx, q, kPool, nResults)
			if err != nil && !errors.Is(err, domain.ErrInvalidInput) {
				return fmt.Errorf("recommend %s: %w", id, err)
			}
			list := make([]string, 0, len(resp.Results))
			for _, r := range resp.Results {
				list = append(list, r.ItemID)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed[id] = domain.KindOf(err)
			}
			rep.Lists[id] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	rep.Took = time.Since(start)
	return rep, nil
}

// Publish stores lists, replacing earlier lists of the same items.
func (s *Service) Publish(ctx context.Context, deployment string, lists map[string][]string) error {
	if deployment == "" {
		return fmt.Errorf("deployment is required: %w", domain.ErrInvalidInput)
	}
	if s.store == nil {
		return fmt.Errorf("publish %s: no list store: %w", deployment, domain.ErrConfiguration)
	}
	if err := s.store.Replace(ctx, deployment, lists); err != nil {
		return fmt.Errorf("publish %s: %w", deployment, err)
	}
	return nil
}

// Import publishes a JSON object of {item_id: [related ids]}.
func (s *Service) Import(ctx context.Context, deployment string, r io.Reader) (int, error) {
	var lists map[string][]string
	if err := json.NewDecoder(r).Decode(&lists); err != nil {
		return 0, fmt.Errorf("decode recommendation lists: %v: %w", err, domain.ErrInvalidInput)
	}
	if err := s.Publish(ctx, deployment, lists); err != nil {
		return 0, err
	}
	return len(lists), nil
}

// Get returns the top n entries of an item's published list in rank order; n <= 0 returns all.
func (s *Service) Get(ctx context.Context, deployment, id string, n int) ([]string, error) {
	ids, ok, err := s.store.Get(ctx, deployment, id, n)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no recommendations for %q in %s: %w", id, deployment, domain.ErrItemNotFound)
	}
	return ids, nil
}

// ListItems returns the items with a published list.
func (s *Service) ListItems(ctx context.Context, deployment string) ([]string, error) {
	return s.store.Items(ctx, deployment)
}

// ListDeployments returns the deployments with published lists.
func (s *Service) ListDeployments(ctx context.Context) ([]string, error) {
	return s.store.Deployments(ctx)
}

// Referrers returns the items whose published list contains id.
func (s *Service) Referrers(ctx context.Context, deployment, id string) ([]string, error) {
	return s.store.Referrers(ctx, deployment, id)
}
