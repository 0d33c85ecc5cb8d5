package chi

import (
	"time"

	"github.com/kailas-cloud/itemrec/internal/domain/recommend/result"
	"github.com/kailas-cloud/itemrec/internal/usecase/pipeline"
)

// ErrorResponseCode is a machine-readable error code.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest         ErrorResponseCode = "bad_request"
	ErrorResponseCodeUnauthorized       ErrorResponseCode = "unauthorized"
	ErrorResponseCodeForbidden          ErrorResponseCode = "forbidden"
	ErrorResponseCodeInvalidInput       ErrorResponseCode = "invalid_input"
	ErrorResponseCodeItemNotFound       ErrorResponseCode = "item_not_found"
	ErrorResponseCodeDatasetNotFound    ErrorResponseCode = "dataset_not_found"
	ErrorResponseCodeConfiguration      ErrorResponseCode = "configuration"
	ErrorResponseCodeRetrievalTimeout   ErrorResponseCode = "retrieval_timeout"
	ErrorResponseCodeRerankTimeout      ErrorResponseCode = "rerank_timeout"
	ErrorResponseCodeEncoderUnavailable ErrorResponseCode = "encoder_unavailable"
	ErrorResponseCodeIndexUnavailable   ErrorResponseCode = "index_unavailable"
	ErrorResponseCodeDimensionMismatch  ErrorResponseCode = "dimension_mismatch"
	ErrorResponseCodeScoringFailed      ErrorResponseCode = "scoring_failed"
	ErrorResponseCodeNotImplemented     ErrorResponseCode = "not_implemented"
	ErrorResponseCodeInternalError      ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
	Stage   string            `json:"stage,omitempty"`
}

// RecommendParams are the query parameters of GET /recommend.
type RecommendParams struct {
	Dataset string `json:"dataset"`
	Iid     string `json:"iid"`
	N       *int   `json:"n,omitempty"`
	K       *int   `json:"k,omitempty"`
}

// RecommendTextRequest is the body of POST /recommend.
type RecommendTextRequest struct {
	Dataset string `json:"dataset"`
	Text    string `json:"text"`
	N       *int   `json:"n,omitempty"`
	K       *int   `json:"k,omitempty"`
}

// RecommendResponse carries the ranked list. Recommendations repeats the ids
// of Results in rank order; precomputed answers carry ids only.
type RecommendResponse struct {
	Dataset         string               `json:"dataset"`
	Iid             string               `json:"iid,omitempty"`
	Recommendations []string             `json:"recommendations"`
	Results         []result.Ranked      `json:"results,omitempty"`
	Precomputed     bool                 `json:"precomputed"`
	Provenance      *pipeline.Provenance `json:"provenance,omitempty"`
}

// Dataset describes one servable deployment.
type Dataset struct {
	Name        string     `json:"name"`
	Live        bool       `json:"live"`
	Precomputed bool       `json:"precomputed"`
	SnapshotID  string     `json:"snapshot_id,omitempty"`
	Items       int        `json:"items,omitempty"`
	Encoder     string     `json:"encoder,omitempty"`
	BuiltAt     *time.Time `json:"built_at,omitempty"`
}

// DatasetListResponse is the body of GET /datasets.
type DatasetListResponse struct {
	Items []Dataset `json:"items"`
}

// ReferrersResponse is the body of GET /datasets/{dataset}/referrers.
type ReferrersResponse struct {
	Dataset   string   `json:"dataset"`
	Iid       string   `json:"iid"`
	Referrers []string `json:"referrers"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Datasets int               `json:"available_datasets"`
}
