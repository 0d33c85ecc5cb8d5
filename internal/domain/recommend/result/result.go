package result

import (
	"cmp"
	"slices"
)

// Ranked is a single re-ranked recommendation. Rank is 1-based.
type Ranked struct {
	ItemID     string  `json:"item_id"`
	FinalScore float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// Scored is a re-ranking score before rank assignment.
type Scored struct {
	ItemID string
	Score  float64
}

// Rank sorts scored items by score descending with item id ascending on ties,
// keeps the first n and assigns ranks starting at 1.
func Rank(scored []Scored, n int) []Ranked {
	sorted := slices.Clone(scored)
	slices.SortFunc(sorted, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	out := make([]Ranked, len(sorted))
	for i, s := range sorted {
		out[i] = Ranked{ItemID: s.ItemID, FinalScore: s.Score, Rank: i + 1}
	}
	return out
}
