package retrieval

import (
	"math"
	"testing"

	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/index"
)

func hits(ids ...string) []index.Hit {
	out := make([]index.Hit, len(ids))
	for i, id := range ids {
		out[i] = index.Hit{ID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func TestFuseRRF_DisjointLists(t *testing.T) {
	lists := []ranked{
		{backend.Dense, hits("a", "b")},
		{backend.Lexical, hits("c", "d")},
	}

	results := fuseRRF(lists, 60)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	// rank 1 in both lists: equal scores, id breaks the tie
	if results[0].ItemID != "a" || results[1].ItemID != "c" {
		t.Errorf("expected a, c first, got %s, %s", results[0].ItemID, results[1].ItemID)
	}
}

func TestFuseRRF_OverlappingLists(t *testing.T) {
	lists := []ranked{
		{backend.Dense, hits("a", "b", "c")},
		{backend.Lexical, hits("b", "d", "a")},
	}

	results := fuseRRF(lists, 60)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	// "b": 1/62 + 1/61 > "a": 1/61 + 1/63
	if results[0].ItemID != "b" || results[1].ItemID != "a" {
		t.Errorf("expected b, a first, got %s, %s", results[0].ItemID, results[1].ItemID)
	}
	expected := 1.0/62 + 1.0/61
	if math.Abs(results[0].CoarseScore-expected) > 1e-12 {
		t.Errorf("expected score %f, got %f", expected, results[0].CoarseScore)
	}
}

func TestFuseRRF_ScoreFormula(t *testing.T) {
	results := fuseRRF([]ranked{{backend.Dense, hits("x")}}, 60)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if math.Abs(results[0].CoarseScore-1.0/61) > 1e-12 {
		t.Errorf("expected 1/61, got %f", results[0].CoarseScore)
	}
}

func TestFuseRRF_Empty(t *testing.T) {
	if results := fuseRRF(nil, 60); len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestFuseWeighted(t *testing.T) {
	lists := []ranked{
		{backend.Dense, []index.Hit{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}, {ID: "c", Score: 0.1}}},
		{backend.Lexical, []index.Hit{{ID: "c", Score: 8}, {ID: "b", Score: 4}}},
	}

	results := fuseWeighted(lists, 0.5)
	got := make(map[string]float64)
	for _, r := range results {
		got[r.ItemID] = r.CoarseScore
	}
	// a: 0.5*1 + 0 ; b: 0.5*0.5 + 0.5*0 ; c: 0.5*0 + 0.5*1
	want := map[string]float64{"a": 0.5, "b": 0.25, "c": 0.5}
	for id, w := range want {
		if math.Abs(got[id]-w) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", id, w, got[id])
		}
	}
	if results[0].ItemID != "a" || results[1].ItemID != "c" {
		t.Errorf("expected a, c (tie by id), got %v", results)
	}
}

func TestFuseWeighted_AlphaBias(t *testing.T) {
	lists := []ranked{
		{backend.Dense, []index.Hit{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.1}}},
		{backend.Lexical, []index.Hit{{ID: "b", Score: 5}, {ID: "a", Score: 1}}},
	}
	if r := fuseWeighted(lists, 0.9); r[0].ItemID != "a" {
		t.Errorf("alpha 0.9 should favour dense, got %s", r[0].ItemID)
	}
	if r := fuseWeighted(lists, 0.1); r[0].ItemID != "b" {
		t.Errorf("alpha 0.1 should favour lexical, got %s", r[0].ItemID)
	}
}

func TestMinMax_EqualScores(t *testing.T) {
	norm := minMax([]index.Hit{{ID: "a", Score: 3}, {ID: "b", Score: 3}})
	if norm["a"] != 1 || norm["b"] != 1 {
		t.Errorf("equal scores must normalize to 1, got %v", norm)
	}
}

func TestPassthrough_KeepsRawScores(t *testing.T) {
	results := passthrough([]index.Hit{{ID: "b", Score: 2.5}, {ID: "a", Score: 2.5}, {ID: "c", Score: 7}})
	if results[0].ItemID != "c" || results[0].CoarseScore != 7 {
		t.Errorf("expected c with raw score 7 first, got %+v", results[0])
	}
	if results[1].ItemID != "a" || results[2].ItemID != "b" {
		t.Errorf("ties must break by id, got %v", results)
	}
}
