package sdk

import "time"

// Ranked is a single re-ranked recommendation. Rank is 1-based.
type Ranked struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// Provenance describes how a live response was produced.
type Provenance struct {
	Deployment      string             `json:"deployment"`
	SnapshotID      string             `json:"snapshot_id"`
	Encoder         string             `json:"encoder,omitempty"`
	Backends        []string           `json:"backends"`
	Fusion          string             `json:"fusion"`
	Scorer          string             `json:"scorer"`
	PoolSize        int                `json:"pool_size"`
	Candidates      int                `json:"candidates"`
	Results         int                `json:"results"`
	FailedScores    int                `json:"failed_scores"`
	EmbeddingReused bool               `json:"embedding_reused"`
	Cached          bool               `json:"cached"`
	DurationsMs     map[string]float64 `json:"durations_ms"`
	Trace           []string           `json:"trace"`
}

// RecommendResponse is a ranked list. Results and Provenance are empty for
// precomputed answers.
type RecommendResponse struct {
	Dataset         string      `json:"dataset"`
	Iid             string      `json:"iid,omitempty"`
	Recommendations []string    `json:"recommendations"`
	Results         []Ranked    `json:"results,omitempty"`
	Precomputed     bool        `json:"precomputed"`
	Provenance      *Provenance `json:"provenance,omitempty"`

	// EmbeddingTokens is read from the X-Embedding-Tokens header.
	EmbeddingTokens int `json:"-"`
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

// HealthStatus represents the aggregated server health.
type HealthStatus struct {
	Status   string            `json:"status"` // "ok", "degraded", "error"
	Checks   map[string]string `json:"checks"`
	Datasets int               `json:"available_datasets"`
}

type recommendTextRequest struct {
	Dataset string `json:"dataset"`
	Text    string `json:"text"`
	N       *int   `json:"n,omitempty"`
	K       *int   `json:"k,omitempty"`
}

type datasetListResponse struct {
	Items []Dataset `json:"items"`
}

type referrersResponse struct {
	Referrers []string `json:"referrers"`
}
