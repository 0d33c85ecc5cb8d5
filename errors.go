package itemrec

import "github.com/kailas-cloud/itemrec/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput           = domain.ErrInvalidInput
	ErrItemNotFound           = domain.ErrItemNotFound
	ErrUnknownDeployment      = domain.ErrUnknownDeployment
	ErrEmptyText              = domain.ErrEmptyText
	ErrEncoderUnavailable     = domain.ErrEncoderUnavailable
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrIndexUnavailable       = domain.ErrIndexUnavailable
	ErrCorruptArtifact        = domain.ErrCorruptArtifact
	ErrRetrievalTimeout       = domain.ErrRetrievalTimeout
	ErrRerankTimeout          = domain.ErrRerankTimeout
	ErrDimensionMismatch      = domain.ErrDimensionMismatch
	ErrEncoderMismatch        = domain.ErrEncoderMismatch
	ErrConfiguration          = domain.ErrConfiguration
	ErrScoringFailed          = domain.ErrScoringFailed
)
