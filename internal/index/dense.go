package index

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Metric is the similarity function fixed at build time.
type Metric string

// Supported metrics.
const (
	Cosine       Metric = "cosine"
	InnerProduct Metric = "inner_product"
)

// IsValid checks if the metric is supported.
func (m Metric) IsValid() bool { return m == Cosine || m == InnerProduct }

// Hit is a single index match.
type Hit struct {
	ID    string
	Score float64
}

// DenseEntry is one (item id, embedding) input pair.
type DenseEntry struct {
	ID     string
	Vector []float32
}

// Dense is an exact nearest-neighbour index. Immutable after build.
type Dense struct {
	info    domain.EncoderInfo
	metric  Metric
	ids     []string
	vectors [][]float32
	pos     map[string]int
}

// BuildDense validates every entry against info and builds the index.
// Any vector whose length differs from info.Dimensions fails the whole build.
func BuildDense(info domain.EncoderInfo, metric Metric, entries []DenseEntry) (*Dense, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("build dense: %w", err)
	}
	if !metric.IsValid() {
		return nil, fmt.Errorf("build dense: unknown metric %q: %w", metric, domain.ErrConfiguration)
	}

	d := &Dense{
		info:    info,
		metric:  metric,
		ids:     make([]string, 0, len(entries)),
		vectors: make([][]float32, 0, len(entries)),
		pos:     make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("build dense: empty item id: %w", domain.ErrInvalidInput)
		}
		if _, dup := d.pos[e.ID]; dup {
			return nil, fmt.Errorf("build dense: duplicate item id %q: %w", e.ID, domain.ErrInvalidInput)
		}
		if len(e.Vector) != info.Dimensions {
			return nil, fmt.Errorf("build dense: item %q has %d dimensions, encoder %s expects %d: %w",
				e.ID, len(e.Vector), info, info.Dimensions, domain.ErrDimensionMismatch)
		}
		v := slices.Clone(e.Vector)
		if metric == Cosine {
			if !normalizeInPlace(v) {
				return nil, fmt.Errorf("build dense: item %q has a zero vector: %w", e.ID, domain.ErrInvalidInput)
			}
		}
		d.pos[e.ID] = len(d.ids)
		d.ids = append(d.ids, e.ID)
		d.vectors = append(d.vectors, v)
	}
	return d, nil
}

// Query returns up to k hits ordered by similarity, excluding the exclude id.
// k larger than the corpus returns every item.
func (d *Dense) Query(q []float32, k int, exclude string) ([]Hit, error) {
	if len(q) != d.info.Dimensions {
		return nil, fmt.Errorf("dense query: got %d dimensions, index expects %d: %w",
			len(q), d.info.Dimensions, domain.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}
	if d.metric == Cosine {
		q = slices.Clone(q)
		if !normalizeInPlace(q) {
			return nil, fmt.Errorf("dense query: zero vector: %w", domain.ErrInvalidInput)
		}
	}

	hits := make([]Hit, 0, len(d.ids))
	for i, id := range d.ids {
		if id == exclude {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: dot(q, d.vectors[i])})
	}
	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Vector returns the stored (normalized for cosine) vector of an item.
func (d *Dense) Vector(id string) ([]float32, bool) {
	i, ok := d.pos[id]
	if !ok {
		return nil, false
	}
	return d.vectors[i], true
}

// Similarity scores a query vector against one indexed item.
func (d *Dense) Similarity(q []float32, id string) (float64, bool) {
	v, ok := d.Vector(id)
	if !ok || len(q) != len(v) {
		return 0, false
	}
	if d.metric == Cosine {
		q = slices.Clone(q)
		if !normalizeInPlace(q) {
			return 0, false
		}
	}
	return dot(q, v), true
}

// Len returns the number of indexed items.
func (d *Dense) Len() int { return len(d.ids) }

// Info returns the encoder identity the index was built with.
func (d *Dense) Info() domain.EncoderInfo { return d.info }

// Metric returns the similarity metric.
func (d *Dense) Metric() Metric { return d.metric }

// SortHits orders hits by score descending, then id ascending.
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// normalizeInPlace scales v to unit length. Returns false for a zero or non-finite vector.
func normalizeInPlace(v []float32) bool {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return true
}
