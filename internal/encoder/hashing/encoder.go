// Package hashing implements a deterministic local text encoder based on
// signed feature hashing of words, word bigrams and character trigrams.
// It needs no model files or network and is used for offline builds, tests
// and small deployments.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/textproc"
)

// Name is the encoder name recorded in index manifests.
const Name = "hashing"

// Feature weights.
const (
	wordWeight    = 1.0
	bigramWeight  = 0.5
	trigramWeight = 0.25
)

// Encoder maps text into a fixed number of buckets. Safe for concurrent use.
type Encoder struct {
	dims    int
	version string
}

// New creates an encoder with the given dimensionality.
func New(dims int, version string) (*Encoder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("hashing encoder: dimensions must be positive: %w", domain.ErrEncoderUnavailable)
	}
	if version == "" {
		version = "1"
	}
	return &Encoder{dims: dims, version: version}, nil
}

// Info returns the encoder identity.
func (e *Encoder) Info() domain.EncoderInfo {
	return domain.EncoderInfo{Name: Name, Version: e.version, Dimensions: e.dims}
}

// Embed returns an L2-normalized vector. Text without any token is invalid input.
func (e *Encoder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	tokens := textproc.Tokenize(text)
	if len(tokens) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("hashing encoder: no tokens: %w", domain.ErrEmptyText)
	}

	vec := make([]float64, e.dims)
	for _, t := range tokens {
		e.add(vec, "w:"+t, wordWeight)
		for _, g := range textproc.CharNGrams(t, 3) {
			e.add(vec, "c:"+g, trigramWeight)
		}
	}
	for _, b := range textproc.Bigrams(tokens) {
		e.add(vec, "b:"+b, bigramWeight)
	}

	return domain.EmbeddingResult{Embedding: normalize(vec), PromptTokens: len(tokens), TotalTokens: len(tokens)}, nil
}

// BatchEmbed embeds texts in order.
func (e *Encoder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchFallback(ctx, e, texts)
}

// HealthCheck always succeeds: the encoder has no external dependency.
func (e *Encoder) HealthCheck(context.Context) error { return nil }

func (e *Encoder) add(vec []float64, feature string, w float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims)) //nolint:gosec // dims > 0
	if sum>>63 == 1 {
		w = -w
	}
	vec[idx] += w
}

func normalize(v []float64) []float32 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}
