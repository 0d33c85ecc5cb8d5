package candidate

import (
	"slices"
	"testing"
)

func TestSort(t *testing.T) {
	cs := []Candidate{
		{ItemID: "b", CoarseScore: 0.1},
		{ItemID: "c", CoarseScore: 0.3},
		{ItemID: "a", CoarseScore: 0.3},
	}
	Sort(cs)

	if got := IDs(cs); !slices.Equal(got, []string{"a", "c", "b"}) {
		t.Errorf("unexpected order %v", got)
	}
}
