package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Service is the representation module: text in, unit-length fixed-size vector out.
// It is stateless apart from the encoder it wraps.
type Service struct {
	enc      domain.Embedder
	info     domain.EncoderInfo
	maxRunes int
	logger   *zap.Logger
}

// NewService validates the encoder identity. An unusable identity means the
// encoder cannot be resolved and is reported as EncoderUnavailable.
func NewService(enc domain.Embedder, info domain.EncoderInfo, maxRunes int, logger *zap.Logger) (*Service, error) {
	if enc == nil {
		return nil, fmt.Errorf("representation: no encoder: %w", domain.ErrEncoderUnavailable)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("representation: %v: %w", err, domain.ErrEncoderUnavailable)
	}
	return &Service{enc: enc, info: info, maxRunes: maxRunes, logger: logger}, nil
}

// Info returns the encoder identity every produced vector belongs to.
func (s *Service) Info() domain.EncoderInfo { return s.info }

// Embed encodes one text. Long texts are chunked and mean-pooled.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch encodes texts preserving order and length.
// Any blank text fails the whole batch with InvalidInput before the encoder is called.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var flat []string
	owner := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("text [%d]: %w", i, domain.ErrEmptyText)
		}
		for _, c := range Chunk(t, s.maxRunes) {
			flat = append(flat, c)
			owner = append(owner, i)
		}
	}

	res, err := domain.Batch(ctx, s.enc, flat)
	if err != nil {
		return nil, translate(ctx, err)
	}
	if len(res.Embeddings) != len(flat) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d inputs: %w",
			len(res.Embeddings), len(flat), domain.ErrEncoderUnavailable)
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)

	sums := make([][]float64, len(texts))
	for j, vec := range res.Embeddings {
		if len(vec) != s.info.Dimensions {
			return nil, fmt.Errorf("encoder %s returned %d dimensions: %w",
				s.info, len(vec), domain.ErrDimensionMismatch)
		}
		i := owner[j]
		if sums[i] == nil {
			sums[i] = make([]float64, s.info.Dimensions)
		}
		unit, ok := unitVector(vec)
		if !ok {
			return nil, fmt.Errorf("encoder %s returned a zero or non-finite vector for text [%d]: %w",
				s.info, i, domain.ErrEncoderUnavailable)
		}
		for d, x := range unit {
			sums[i][d] += x
		}
	}

	out := make([][]float32, len(texts))
	for i, sum := range sums {
		pooled, ok := unitVector64(sum)
		if !ok {
			return nil, fmt.Errorf("text [%d]: chunk embeddings cancel out: %w", i, domain.ErrEncoderUnavailable)
		}
		out[i] = pooled
	}

	if len(flat) > len(texts) {
		s.logger.Debug("Embedded chunked texts",
			zap.Int("texts", len(texts)),
			zap.Int("chunks", len(flat)),
		)
	}
	return out, nil
}

// translate keeps caller-side errors (cancellation, invalid input) intact and
// marks everything else as an encoder failure.
func translate(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("encode: %w", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEncoderUnavailable),
		errors.Is(err, domain.ErrDimensionMismatch):
		return fmt.Errorf("encode: %w", err)
	default:
		return fmt.Errorf("encode: %w: %w", domain.ErrEncoderUnavailable, err)
	}
}

func unitVector(v []float32) ([]float64, bool) {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	n := norm(out)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, false
	}
	for i := range out {
		out[i] /= n
	}
	return out, true
}

func unitVector64(v []float64) ([]float32, bool) {
	n := norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, false
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x / n)
	}
	return out, true
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
