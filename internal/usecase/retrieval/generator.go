// Package retrieval generates the candidate pool from the configured index backends.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/candidate"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/fusion"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// Generator queries every configured strategy and fuses their lists.
type Generator struct {
	strategies []Strategy
	fusion     fusion.Params
	logger     *zap.Logger
	search     SearchIndex
	deployment string
}

// Option customizes a Generator.
type Option func(*Generator)

// WithSearchIndex serves every backend of the deployment from idx instead of
// the in-process indexes of the snapshot.
func WithSearchIndex(idx SearchIndex, deployment string) Option {
	return func(g *Generator) {
		g.search = idx
		g.deployment = deployment
	}
}

// NewGenerator builds a generator for the given backends.
// An empty backend set is IndexUnavailable: nothing could ever be retrieved.
func NewGenerator(backends []backend.Backend, params fusion.Params, logger *zap.Logger, opts ...Option) (*Generator, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("no retrieval backend configured: %w", domain.ErrIndexUnavailable)
	}
	params = params.WithDefaults()
	if !params.Rule.IsValid() {
		return nil, fmt.Errorf("unknown fusion rule %q: %w", params.Rule, domain.ErrConfiguration)
	}
	if params.Alpha < 0 || params.Alpha > 1 {
		return nil, fmt.Errorf("fusion alpha %v outside [0, 1]: %w", params.Alpha, domain.ErrConfiguration)
	}

	g := &Generator{fusion: params, logger: logger}
	for _, o := range opts {
		o(g)
	}
	g.strategies = make([]Strategy, 0, len(backends))
	for _, b := range backends {
		var (
			s   Strategy
			err error
		)
		if g.search != nil {
			s, err = NewSearchStrategy(b, g.search, g.deployment)
		} else {
			s, err = NewStrategy(b)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		g.strategies = append(g.strategies, s)
	}
	return g, nil
}

// Fusion returns the effective fusion parameters.
func (g *Generator) Fusion() fusion.Params { return g.fusion }

// Backends returns the configured backends in query order.
func (g *Generator) Backends() []backend.Backend {
	out := make([]backend.Backend, len(g.strategies))
	for i, s := range g.strategies {
		out[i] = s.Backend()
	}
	return out
}

// Generate returns at most k candidates ordered by coarse score desc, id asc,
// plus the names of the backends that actually ran. The query item never appears.
// A missing backend degrades the result; no available backend is IndexUnavailable.
func (g *Generator) Generate(
	ctx context.Context, p Lookup, snap *index.Snapshot, k int,
) ([]candidate.Candidate, []string, error) {
	if k <= 0 {
		return nil, nil, fmt.Errorf("pool size must be positive, got %d: %w", k, domain.ErrInvalidInput)
	}
	if snap == nil {
		return nil, nil, fmt.Errorf("no index snapshot loaded: %w", domain.ErrIndexUnavailable)
	}

	lists := make([]ranked, 0, len(g.strategies))
	used := make([]string, 0, len(g.strategies))
	for _, s := range g.strategies {
		hits, ok, err := s.Retrieve(ctx, p, snap, k)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("%s retrieval: %w", s.Backend(), err)
		}
		if !ok {
			g.logger.Debug("Retrieval backend unavailable", zap.String("backend", string(s.Backend())))
			continue
		}
		lists = append(lists, ranked{backend: s.Backend(), hits: hits})
		used = append(used, string(s.Backend()))
	}

	if len(lists) == 0 {
		return nil, nil, fmt.Errorf("none of %v available in snapshot %s: %w",
			g.Backends(), snap.ID(), domain.ErrIndexUnavailable)
	}

	var out []candidate.Candidate
	switch {
	case len(lists) == 1:
		out = passthrough(lists[0].hits)
	case g.fusion.Rule == fusion.Weighted:
		out = fuseWeighted(lists, g.fusion.Alpha)
	default:
		out = fuseRRF(lists, g.fusion.RRFK)
	}

	// Индексы уже исключают query item, но fusion не должна его вернуть ни при каких условиях
	if p.ItemID != "" {
		out = dropID(out, p.ItemID)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, used, nil
}

func dropID(cs []candidate.Candidate, id string) []candidate.Candidate {
	out := cs[:0]
	for _, c := range cs {
		if c.ItemID != id {
			out = append(out, c)
		}
	}
	return out
}
