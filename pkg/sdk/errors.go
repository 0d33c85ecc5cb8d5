package sdk

import (
	"fmt"

	"github.com/kailas-cloud/itemrec"
)

// APIError is a non-2xx response decoded from the server error body.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Stage      string `json:"stage,omitempty"`
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("itemrec: %d %s at %s: %s", e.StatusCode, e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("itemrec: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the error code to the matching itemrec sentinel, so that
// errors.Is(err, itemrec.ErrItemNotFound) works across the wire.
func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

var codeErrors = map[string]error{
	"bad_request":         itemrec.ErrInvalidInput,
	"invalid_input":       itemrec.ErrInvalidInput,
	"item_not_found":      itemrec.ErrItemNotFound,
	"dataset_not_found":   itemrec.ErrUnknownDeployment,
	"configuration":       itemrec.ErrConfiguration,
	"retrieval_timeout":   itemrec.ErrRetrievalTimeout,
	"rerank_timeout":      itemrec.ErrRerankTimeout,
	"encoder_unavailable": itemrec.ErrEncoderUnavailable,
	"index_unavailable":   itemrec.ErrIndexUnavailable,
	"dimension_mismatch":  itemrec.ErrDimensionMismatch,
	"scoring_failed":      itemrec.ErrScoringFailed,
}
