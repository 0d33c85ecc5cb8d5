// Package rerank re-scores a candidate pool with a finer relevance model.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/candidate"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/result"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/metrics"
)

// Defaults.
const (
	DefaultFailureThreshold = 0.5
	DefaultConcurrency      = 4
	DefaultBatchSize        = 16
)

// Config tunes the re-ranking stage.
type Config struct {
	MaxPool          int     // largest allowed result size; 0 disables the check
	FailureThreshold float64 // fraction of the pool allowed to fail scoring
	Concurrency      int
	BatchSize        int
	CoarseWeight     float64 // weight of the min-max normalized coarse score added to the final score
}

// Outcome is the re-ranked list plus the number of candidates that could not be scored.
type Outcome struct {
	Results []result.Ranked
	Failed  int
}

// Service re-ranks candidate pools with one scorer. Pure apart from metrics.
type Service struct {
	scorer Scorer
	cfg    Config
	logger *zap.Logger
}

// NewService creates a re-ranker.
func NewService(scorer Scorer, cfg Config, logger *zap.Logger) (*Service, error) {
	if scorer == nil {
		return nil, fmt.Errorf("rerank: no scorer: %w", domain.ErrConfiguration)
	}
	if cfg.FailureThreshold < 0 || cfg.FailureThreshold > 1 {
		return nil, fmt.Errorf("rerank: failure threshold %v outside [0, 1]: %w", cfg.FailureThreshold, domain.ErrConfiguration)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CoarseWeight < 0 {
		return nil, fmt.Errorf("rerank: coarse weight is negative: %w", domain.ErrConfiguration)
	}
	return &Service{scorer: scorer, cfg: cfg, logger: logger}, nil
}

// Scorer returns the scorer name.
func (s *Service) Scorer() string { return s.scorer.Name() }

// Rerank scores every candidate against the query document and returns the top n.
// Candidate documents and corpus statistics come from snap.
func (s *Service) Rerank(
	ctx context.Context, query string, snap *index.Snapshot, pool []candidate.Candidate, n int,
) (Outcome, error) {
	if n <= 0 {
		return Outcome{}, fmt.Errorf("n_results must be positive, got %d: %w", n, domain.ErrInvalidInput)
	}
	if s.cfg.MaxPool > 0 && n > s.cfg.MaxPool {
		return Outcome{}, fmt.Errorf("n_results %d exceeds max pool %d: %w", n, s.cfg.MaxPool, domain.ErrConfiguration)
	}
	if len(pool) == 0 {
		return Outcome{Results: []result.Ranked{}}, nil
	}
	if snap == nil {
		return Outcome{}, fmt.Errorf("rerank: no snapshot: %w", domain.ErrIndexUnavailable)
	}

	scorer := bindStats(s.scorer, snap.Lexical())

	// Собираем результаты по позиции кандидата, сортируем только после всех батчей
	scores := make([]float64, len(pool))
	ok := make([]bool, len(pool))
	docs := make([]string, len(pool))
	var positions []int
	for i, c := range pool {
		doc, found := snap.Document(c.ItemID)
		if !found {
			continue
		}
		docs[i] = doc
		positions = append(positions, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(positions); start += s.cfg.BatchSize {
		batch := positions[start:min(start+s.cfg.BatchSize, len(positions))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, pos := range batch {
				texts[j] = docs[pos]
			}
			got, err := scorer.Score(gctx, query, texts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("Rerank batch failed",
					zap.String("scorer", scorer.Name()),
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				return nil
			}
			if len(got) != len(batch) {
				s.logger.Warn("Rerank batch returned wrong number of scores",
					zap.String("scorer", scorer.Name()),
					zap.Int("expected", len(batch)),
					zap.Int("got", len(got)),
				)
				return nil
			}
			for j, pos := range batch {
				if math.IsNaN(got[j]) || math.IsInf(got[j], 0) {
					continue
				}
				scores[pos] = got[j]
				ok[pos] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, timeoutErr(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, timeoutErr(ctx, err)
	}

	var coarse map[string]float64
	if s.cfg.CoarseWeight > 0 {
		coarse = normalizeCoarse(pool)
	}

	scored := make([]result.Scored, 0, len(pool))
	failed := 0
	for i, c := range pool {
		if !ok[i] {
			failed++
			continue
		}
		score := scores[i]
		if coarse != nil {
			score += s.cfg.CoarseWeight * coarse[c.ItemID]
		}
		scored = append(scored, result.Scored{ItemID: c.ItemID, Score: score})
	}

	if failed > 0 {
		metrics.RerankFailedScoresTotal.WithLabelValues(scorer.Name()).Add(float64(failed))
		if float64(failed)/float64(len(pool)) > s.cfg.FailureThreshold {
			return Outcome{Failed: failed}, fmt.Errorf("%d of %d candidates failed scoring with %s: %w",
				failed, len(pool), scorer.Name(), domain.ErrScoringFailed)
		}
	}

	return Outcome{Results: result.Rank(scored, n), Failed: failed}, nil
}

func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrRerankTimeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("rerank: %w", err)
}

func normalizeCoarse(pool []candidate.Candidate) map[string]float64 {
	out := make(map[string]float64, len(pool))
	lo, hi := pool[0].CoarseScore, pool[0].CoarseScore
	for _, c := range pool[1:] {
		lo = min(lo, c.CoarseScore)
		hi = max(hi, c.CoarseScore)
	}
	for _, c := range pool {
		if hi == lo {
			out[c.ItemID] = 1
			continue
		}
		out[c.ItemID] = (c.CoarseScore - lo) / (hi - lo)
	}
	return out
}
