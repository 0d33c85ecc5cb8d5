package retrieval

import (
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/candidate"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// ranked is one backend's hit list.
type ranked struct {
	backend backend.Backend
	hits    []index.Hit
}

// fuseRRF merges ranked lists via Reciprocal Rank Fusion.
// score(d) = sum of 1/(k + rank_i(d)) over the lists where d appears, rank 1-based.
func fuseRRF(lists []ranked, k int) []candidate.Candidate {
	merged := make(map[string]float64)
	for _, l := range lists {
		for rank, h := range l.hits {
			merged[h.ID] += 1.0 / float64(k+rank+1)
		}
	}
	return collect(merged)
}

// fuseWeighted min-max normalizes each list to [0, 1] and combines them as
// alpha*dense + (1-alpha)*lexical. An item missing from a list gets 0 there.
// A list whose scores are all equal normalizes to 1.
func fuseWeighted(lists []ranked, alpha float64) []candidate.Candidate {
	merged := make(map[string]float64)
	for _, l := range lists {
		w := alpha
		if l.backend == backend.Lexical {
			w = 1 - alpha
		}
		for id, s := range minMax(l.hits) {
			merged[id] += w * s
		}
	}
	return collect(merged)
}

// passthrough keeps a single list's raw scores.
func passthrough(hits []index.Hit) []candidate.Candidate {
	merged := make(map[string]float64, len(hits))
	for _, h := range hits {
		if _, ok := merged[h.ID]; !ok {
			merged[h.ID] = h.Score
		}
	}
	return collect(merged)
}

func minMax(hits []index.Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = min(lo, h.Score)
		hi = max(hi, h.Score)
	}
	for _, h := range hits {
		if hi == lo {
			out[h.ID] = 1
			continue
		}
		out[h.ID] = (h.Score - lo) / (hi - lo)
	}
	return out
}

func collect(merged map[string]float64) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(merged))
	for id, s := range merged {
		out = append(out, candidate.Candidate{ItemID: id, CoarseScore: s})
	}
	candidate.Sort(out)
	return out
}
