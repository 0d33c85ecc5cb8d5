// Package catalog is the metadata store of one deployment.
package catalog

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
)

// Service ingests and serves the items of one deployment.
// A deployment holds one homogeneous corpus: items of another domain are rejected.
type Service struct {
	repo       Repository
	deployment string
	domainTag  string
}

// New creates a catalog service. An empty domainTag accepts any domain.
func New(repo Repository, deployment, domainTag string) *Service {
	return &Service{repo: repo, deployment: deployment, domainTag: domainTag}
}

// Deployment returns the deployment name.
func (s *Service) Deployment() string { return s.deployment }

// Ingest stores items idempotently by id. Within one call the last occurrence of an id wins.
// Returns the number of distinct items written.
func (s *Service) Ingest(ctx context.Context, items ...item.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	pos := make(map[string]int, len(items))
	batch := make([]item.Item, 0, len(items))
	for i, it := range items {
		if it.ID() == "" {
			return 0, fmt.Errorf("item [%d]: empty id: %w", i, domain.ErrInvalidInput)
		}
		if s.domainTag != "" && it.Domain() != "" && it.Domain() != s.domainTag {
			return 0, fmt.Errorf("item %q: domain %q does not belong to deployment %s (%s): %w",
				it.ID(), it.Domain(), s.deployment, s.domainTag, domain.ErrInvalidInput)
		}
		if p, ok := pos[it.ID()]; ok {
			batch[p] = it
			continue
		}
		pos[it.ID()] = len(batch)
		batch = append(batch, it)
	}

	if err := s.repo.Upsert(ctx, s.deployment, batch); err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}
	return len(batch), nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (item.Item, error) {
	it, err := s.repo.Get(ctx, s.deployment, id)
	if err != nil {
		return item.Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// Document returns the normalized, representation-ready text of an item.
func (s *Service) Document(ctx context.Context, id string) (string, error) {
	it, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	doc := it.Document()
	if doc == "" {
		return "", fmt.Errorf("item %q has no text: %w", id, domain.ErrEmptyText)
	}
	return doc, nil
}

// Items returns every item ordered by id.
func (s *Service) Items(ctx context.Context) ([]item.Item, error) {
	items, err := s.repo.List(ctx, s.deployment)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Count returns the number of stored items.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx, s.deployment)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}
