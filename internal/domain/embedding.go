package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies encoder availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Identified is implemented by encoders that know their own identity.
type Identified interface {
	Info() EncoderInfo
}

// EncoderInfo identifies the encoder that produced a set of embeddings.
// Two snapshots are comparable only when their EncoderInfo values are equal.
type EncoderInfo struct {
	Name       string `msgpack:"name" json:"name"`
	Version    string `msgpack:"version" json:"version"`
	Dimensions int    `msgpack:"dimensions" json:"dimensions"`
}

// String renders the identity as name@version/dims.
func (i EncoderInfo) String() string {
	return fmt.Sprintf("%s@%s/%d", i.Name, i.Version, i.Dimensions)
}

// Validate checks that the identity is usable for building an index.
func (i EncoderInfo) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("encoder name is required: %w", ErrConfiguration)
	}
	if i.Dimensions <= 0 {
		return fmt.Errorf("encoder %s: dimensions must be positive: %w", i.Name, ErrConfiguration)
	}
	return nil
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// BatchFallback вызывает Embed по одному для каждого текста. Safety net для провайдеров
// без нативного batch.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

// Batch embeds texts natively when e supports it and one by one otherwise.
func Batch(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return BatchFallback(ctx, e, texts)
}

// InstructionEmbedder prepends instruction text before embedding.
// Instruction-tuned encoders (bge, e5, qwen) expect a document or query prefix.
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends instruction and delegates to inner embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// BatchEmbed prepends instruction to each text and delegates to inner embedder.
// Если inner не поддерживает batch: fallback на поштучный Embed.
func (e *InstructionEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.instruction + t
	}

	res, err := Batch(ctx, e.inner, prefixed)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("instruction batch embed: %w", err)
	}
	return res, nil
}

// Info forwards the identity of the wrapped encoder.
func (e *InstructionEmbedder) Info() EncoderInfo {
	if id, ok := e.inner.(Identified); ok {
		return id.Info()
	}
	return EncoderInfo{}
}
