// Package evaluation scores recommendation lists against ground truth.
package evaluation

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// ErrNoGroundTruth means no predicted item has related items in the ground truth.
var ErrNoGroundTruth = fmt.Errorf("no item with ground truth: %w", domain.ErrInvalidInput)

// Predictions maps an item id to its ordered list of recommended ids.
type Predictions map[string][]string

// GroundTruth maps an item id to the set of ids known to be related to it.
type GroundTruth map[string]map[string]struct{}

// Related reports whether b is a known relation of a.
func (g GroundTruth) Related(a, b string) bool {
	_, ok := g[a][b]
	return ok
}

func (g GroundTruth) add(a, b string) {
	if a == b {
		return
	}
	if g[a] == nil {
		g[a] = make(map[string]struct{})
	}
	g[a][b] = struct{}{}
}

// RecallAt averages |top-n ∩ truth| / |truth| over predicted items with non-empty truth.
func RecallAt(preds Predictions, truth GroundTruth, n int) (float64, error) {
	return average(preds, truth, n, func(top []string, rel map[string]struct{}) float64 {
		hits := 0
		seen := make(map[string]bool, len(top))
		for _, id := range top {
			if _, ok := rel[id]; ok && !seen[id] {
				hits++
			}
			seen[id] = true
		}
		return float64(hits) / float64(len(rel))
	})
}

// NDCGAt averages truncated nDCG over predicted items with non-empty truth.
// The ideal ordering is the top-n relevance vector sorted descending, so an item
// with no relevant id in its top-n scores 0.
func NDCGAt(preds Predictions, truth GroundTruth, n int) (float64, error) {
	return average(preds, truth, n, func(top []string, rel map[string]struct{}) float64 {
		gains := make([]float64, len(top))
		for i, id := range top {
			if _, ok := rel[id]; ok {
				gains[i] = 1
			}
		}
		actual := dcg(gains)
		slices.SortFunc(gains, func(a, b float64) int { return cmp.Compare(b, a) })
		ideal := dcg(gains)
		if ideal == 0 {
			return 0
		}
		return actual / ideal
	})
}

func dcg(gains []float64) float64 {
	var sum float64
	for i, g := range gains {
		sum += g / math.Log2(float64(i+2))
	}
	return sum
}

func average(preds Predictions, truth GroundTruth, n int, score func([]string, map[string]struct{}) float64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cutoff must be positive, got %d: %w", n, domain.ErrInvalidInput)
	}
	ids := make([]string, 0, len(preds))
	for id := range preds {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var sum float64
	count := 0
	for _, id := range ids {
		rel := truth[id]
		if len(rel) == 0 {
			continue
		}
		top := preds[id]
		if len(top) > n {
			top = top[:n]
		}
		sum += score(top, rel)
		count++
	}
	if count == 0 {
		return 0, ErrNoGroundTruth
	}
	return sum / float64(count), nil
}

// Result is the score pair at one cutoff.
type Result struct {
	N      int     `json:"n"`
	Recall float64 `json:"recall"`
	NDCG   float64 `json:"ndcg"`
}

// Evaluate computes Recall@n and nDCG@n for every cutoff.
func Evaluate(preds Predictions, truth GroundTruth, cutoffs ...int) ([]Result, error) {
	out := make([]Result, 0, len(cutoffs))
	var errs []error
	for _, n := range cutoffs {
		r, err := RecallAt(preds, truth, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("recall@%d: %w", n, err))
			continue
		}
		g, err := NDCGAt(preds, truth, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("ndcg@%d: %w", n, err))
			continue
		}
		out = append(out, Result{N: n, Recall: r, NDCG: g})
	}
	return out, errors.Join(errs...)
}
