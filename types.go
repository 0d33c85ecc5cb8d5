package itemrec

import "time"

// Backend is a candidate retrieval backend.
type Backend string

// Retrieval backends.
const (
	BackendDense   Backend = "dense"
	BackendLexical Backend = "lexical"
)

// FusionRule merges the candidate lists of several backends.
type FusionRule string

// Fusion rules.
const (
	FusionRRF      FusionRule = "rrf"
	FusionWeighted FusionRule = "weighted"
)

// Scorer selects the re-ranking model.
type Scorer string

// Scorers available in-process. ScorerBlend averages overlap and embedding scores.
const (
	ScorerOverlap   Scorer = "overlap"
	ScorerEmbedding Scorer = "embedding"
	ScorerBlend     Scorer = "blend"
)

// Item is one recommendable unit: an id and its named text fields.
type Item struct {
	ID     string
	Fields map[string]string
	Domain string
}

// Recommendation is a single ranked result. Rank is 1-based.
type Recommendation struct {
	ID    string
	Score float64
	Rank  int
}

// Result is a ranked list with the provenance of the run that produced it.
type Result struct {
	Recommendations []Recommendation
	Provenance      Provenance
}

// IDs returns the recommended item ids in rank order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		ids[i] = rec.ID
	}
	return ids
}

// Provenance describes how a result was produced.
type Provenance struct {
	SnapshotID      string
	Encoder         string // name@version/dims, empty without the dense backend
	Backends        []string
	Fusion          string
	Scorer          string
	Candidates      int
	FailedScores    int
	EmbeddingReused bool
	Cached          bool
	Durations       map[string]time.Duration // per stage
}

// BuildInfo describes a published snapshot.
type BuildInfo struct {
	SnapshotID string
	Items      int
	Encoder    string
	BuiltAt    time.Time
}

// EncoderInfo identifies a custom encoder. Snapshots built by a different
// identity are never mixed with its query vectors.
type EncoderInfo struct {
	Name       string
	Version    string
	Dimensions int
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component → "ok"/"error"
}
