package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the pipeline matches exactly one of them via errors.Is.
var (
	// ErrInvalidInput signals an empty or malformed query, item or parameter.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEncoderUnavailable signals an encoder that failed to load or stopped responding.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	// ErrIndexUnavailable signals a missing index or no configured retrieval backend.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrRetrievalTimeout signals that embedding or candidate generation exceeded its budget.
	ErrRetrievalTimeout = errors.New("retrieval timeout")
	// ErrRerankTimeout signals that re-ranking exceeded its budget.
	ErrRerankTimeout = errors.New("rerank timeout")
	// ErrDimensionMismatch signals an embedding/index dimensionality or encoder version mismatch.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrConfiguration signals an inconsistent pipeline configuration or request sizing.
	ErrConfiguration = errors.New("configuration error")
	// ErrScoringFailed signals that too many candidates failed to score.
	ErrScoringFailed = errors.New("scoring failed")
)

// Refinements. Each wraps one of the kinds above.
var (
	// ErrItemNotFound signals a query item id that is not in the metadata store.
	ErrItemNotFound = fmt.Errorf("item not found: %w", ErrInvalidInput)
	// ErrUnknownDeployment signals a request for a deployment that is not configured.
	ErrUnknownDeployment = fmt.Errorf("unknown deployment: %w", ErrInvalidInput)
	// ErrEmptyText signals empty or whitespace-only text.
	ErrEmptyText = fmt.Errorf("empty text: %w", ErrInvalidInput)
	// ErrCorruptArtifact signals an unreadable or tampered index artifact.
	ErrCorruptArtifact = fmt.Errorf("corrupt index artifact: %w", ErrIndexUnavailable)
	// ErrEncoderMismatch signals an index built by a different encoder identity.
	ErrEncoderMismatch = fmt.Errorf("encoder mismatch: %w", ErrDimensionMismatch)
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = fmt.Errorf("embedding provider error: %w", ErrEncoderUnavailable)
	// ErrCompletionProviderError signals a text generation provider failure.
	ErrCompletionProviderError = fmt.Errorf("completion provider error: %w", ErrEncoderUnavailable)
)

// Stage names the pipeline step where a failure happened.
type Stage string

// Pipeline stages.
const (
	StageIngest   Stage = "ingest"
	StageEmbed    Stage = "embed"
	StageRetrieve Stage = "retrieve"
	StageRerank   Stage = "rerank"
	StageValidate Stage = "validate"
)

// StageError wraps a failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError attaches stage information to err.
func NewStageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the failed stage or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrEncoderUnavailable, "encoder_unavailable"},
	{ErrIndexUnavailable, "index_unavailable"},
	{ErrRetrievalTimeout, "retrieval_timeout"},
	{ErrRerankTimeout, "rerank_timeout"},
	{ErrDimensionMismatch, "dimension_mismatch"},
	{ErrConfiguration, "configuration"},
	{ErrScoringFailed, "scoring_failed"},
}

// KindOf returns a stable label for the error kind, "internal" for unknown errors and "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
