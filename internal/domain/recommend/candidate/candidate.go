package candidate

import (
	"cmp"
	"slices"
)

// Candidate is a retrieved item with its coarse retrieval score.
type Candidate struct {
	ItemID      string
	CoarseScore float64
}

// Sort orders candidates by score descending, then item id ascending.
func Sort(cs []Candidate) {
	slices.SortFunc(cs, func(a, b Candidate) int {
		if c := cmp.Compare(b.CoarseScore, a.CoarseScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})
}

// IDs returns the item ids in order.
func IDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ItemID
	}
	return out
}
