package retrieval

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/fusion"
	"github.com/kailas-cloud/itemrec/internal/index"
)

var testInfo = domain.EncoderInfo{Name: "test", Version: "1", Dimensions: 3}

var corpus = map[string]struct {
	vec  []float32
	text string
}{
	"A": {[]float32{1, 0, 0}, "graph neural networks for molecules"},
	"B": {[]float32{0.9, 0.1, 0}, "graph networks for chemistry molecules"},
	"C": {[]float32{0, 0, 1}, "medieval poetry anthology"},
	"D": {[]float32{0.5, 0.5, 0}, "neural networks tutorial"},
}

func buildSnapshot(t *testing.T, dense, lexical bool) *index.Snapshot {
	t.Helper()
	docs := make(map[string]string, len(corpus))
	var entries []index.DenseEntry
	var ldocs []index.LexicalDoc
	for id, c := range corpus {
		docs[id] = c.text
		entries = append(entries, index.DenseEntry{ID: id, Vector: c.vec})
		ldocs = append(ldocs, index.LexicalDoc{ID: id, Text: c.text})
	}
	var d *index.Dense
	var l *index.Lexical
	var err error
	if dense {
		if d, err = index.BuildDense(testInfo, index.Cosine, entries); err != nil {
			t.Fatal(err)
		}
	}
	if lexical {
		if l, err = index.BuildLexical(ldocs, index.DefaultBM25()); err != nil {
			t.Fatal(err)
		}
	}
	snap, err := index.NewSnapshot(index.Manifest{Deployment: "test", Encoder: testInfo}, d, l, docs)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func newGenerator(t *testing.T, rule fusion.Rule, backends ...backend.Backend) *Generator {
	t.Helper()
	g, err := NewGenerator(backends, fusion.Params{Rule: rule}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func itemLookup(id string) Lookup {
	return Lookup{ItemID: id, Text: corpus[id].text, Vector: corpus[id].vec}
}

func TestNewGenerator_NoBackends(t *testing.T) {
	_, err := NewGenerator(nil, fusion.Params{}, zap.NewNop())
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestNewGenerator_BadParams(t *testing.T) {
	_, err := NewGenerator([]backend.Backend{backend.Dense}, fusion.Params{Rule: "max"}, zap.NewNop())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("unknown rule: expected ErrConfiguration, got %v", err)
	}
	_, err = NewGenerator([]backend.Backend{backend.Dense}, fusion.Params{Rule: fusion.Weighted, Alpha: 1.5}, zap.NewNop())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("alpha out of range: expected ErrConfiguration, got %v", err)
	}
}

func TestGenerate_Guarantees(t *testing.T) {
	snap := buildSnapshot(t, true, true)
	for _, rule := range []fusion.Rule{fusion.RRF, fusion.Weighted} {
		t.Run(string(rule), func(t *testing.T) {
			g := newGenerator(t, rule, backend.Dense, backend.Lexical)
			for k := 1; k <= 5; k++ {
				out, used, err := g.Generate(context.Background(), itemLookup("A"), snap, k)
				if err != nil {
					t.Fatalf("k=%d: %v", k, err)
				}
				if len(out) > k {
					t.Errorf("k=%d: got %d candidates", k, len(out))
				}
				seen := map[string]bool{}
				for i, c := range out {
					if c.ItemID == "A" {
						t.Errorf("k=%d: query item returned", k)
					}
					if seen[c.ItemID] {
						t.Errorf("k=%d: duplicate %s", k, c.ItemID)
					}
					seen[c.ItemID] = true
					if i > 0 && out[i-1].CoarseScore < c.CoarseScore {
						t.Errorf("k=%d: not sorted: %v", k, out)
					}
				}
				if len(used) != 2 {
					t.Errorf("expected both backends used, got %v", used)
				}
			}
		})
	}
}

func TestGenerate_HybridFindsRelated(t *testing.T) {
	snap := buildSnapshot(t, true, true)
	g := newGenerator(t, fusion.RRF, backend.Dense, backend.Lexical)

	out, _, err := g.Generate(context.Background(), itemLookup("A"), snap, 2)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ItemID != "B" {
		t.Errorf("expected B first, got %v", out)
	}
}

func TestGenerate_KLargerThanCorpus(t *testing.T) {
	snap := buildSnapshot(t, true, false)
	g := newGenerator(t, fusion.RRF, backend.Dense)

	out, _, err := g.Generate(context.Background(), itemLookup("A"), snap, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(corpus)-1 {
		t.Errorf("expected %d candidates, got %d", len(corpus)-1, len(out))
	}
}

func TestGenerate_SingleBackendKeepsScores(t *testing.T) {
	snap := buildSnapshot(t, true, false)
	g := newGenerator(t, fusion.RRF, backend.Dense)

	out, used, err := g.Generate(context.Background(), itemLookup("A"), snap, 1)
	if err != nil {
		t.Fatal(err)
	}
	sim, _ := snap.Dense().Similarity(corpus["A"].vec, "B")
	if out[0].ItemID != "B" || out[0].CoarseScore != sim {
		t.Errorf("expected B with raw cosine %f, got %+v", sim, out[0])
	}
	if len(used) != 1 || used[0] != "dense" {
		t.Errorf("expected [dense], got %v", used)
	}
}

func TestGenerate_DegradesToAvailableBackend(t *testing.T) {
	snap := buildSnapshot(t, false, true)
	g := newGenerator(t, fusion.RRF, backend.Dense, backend.Lexical)

	out, used, err := g.Generate(context.Background(), itemLookup("A"), snap, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(used) != 1 || used[0] != "lexical" {
		t.Errorf("expected [lexical], got %v", used)
	}
	if len(out) == 0 {
		t.Error("expected lexical candidates")
	}
}

func TestGenerate_NoAvailableBackend(t *testing.T) {
	snap := buildSnapshot(t, true, false)
	g := newGenerator(t, fusion.RRF, backend.Lexical)

	_, _, err := g.Generate(context.Background(), itemLookup("A"), snap, 3)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestGenerate_NilSnapshot(t *testing.T) {
	g := newGenerator(t, fusion.RRF, backend.Dense)
	_, _, err := g.Generate(context.Background(), itemLookup("A"), nil, 3)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestGenerate_InvalidK(t *testing.T) {
	snap := buildSnapshot(t, true, false)
	g := newGenerator(t, fusion.RRF, backend.Dense)
	_, _, err := g.Generate(context.Background(), itemLookup("A"), snap, 0)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGenerate_DimensionMismatch(t *testing.T) {
	snap := buildSnapshot(t, true, false)
	g := newGenerator(t, fusion.RRF, backend.Dense)
	_, _, err := g.Generate(context.Background(), Lookup{Vector: []float32{1, 0}}, snap, 3)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestGenerate_Canceled(t *testing.T) {
	snap := buildSnapshot(t, true, true)
	g := newGenerator(t, fusion.RRF, backend.Dense, backend.Lexical)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := g.Generate(ctx, itemLookup("A"), snap, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	snap := buildSnapshot(t, true, true)
	g := newGenerator(t, fusion.Weighted, backend.Dense, backend.Lexical)

	first, _, err := g.Generate(context.Background(), itemLookup("D"), snap, 3)
	if err != nil {
		t.Fatal(err)
	}
	for range 20 {
		again, _, _ := g.Generate(context.Background(), itemLookup("D"), snap, 3)
		for i := range first {
			if first[i] != again[i] {
				t.Fatalf("non-deterministic output: %v vs %v", first, again)
			}
		}
	}
}

// fakeSearchIndex answers from canned lists and records what it was asked.
type fakeSearchIndex struct {
	knn, bm25  []index.Hit
	err        error
	calls      []string
	deployment string
	exclude    string
}

func (f *fakeSearchIndex) SearchKNN(_ context.Context, deployment string, _ []float32, k int, exclude string) ([]index.Hit, error) {
	f.calls = append(f.calls, "knn")
	f.deployment, f.exclude = deployment, exclude
	return trimHits(f.knn, k), f.err
}

func (f *fakeSearchIndex) SearchBM25(_ context.Context, deployment, _ string, k int, exclude string) ([]index.Hit, error) {
	f.calls = append(f.calls, "bm25")
	f.deployment, f.exclude = deployment, exclude
	return trimHits(f.bm25, k), f.err
}

func trimHits(h []index.Hit, k int) []index.Hit {
	if len(h) > k {
		return h[:k]
	}
	return h
}

func TestGenerate_SearchIndexServesBackends(t *testing.T) {
	idx := &fakeSearchIndex{
		knn:  []index.Hit{{ID: "B", Score: 0.99}, {ID: "D", Score: 0.7}},
		bm25: []index.Hit{{ID: "B", Score: 4.1}, {ID: "C", Score: 0.2}},
	}
	g, err := NewGenerator([]backend.Backend{backend.Dense, backend.Lexical},
		fusion.Params{Rule: fusion.RRF}, zap.NewNop(), WithSearchIndex(idx, "papers"))
	if err != nil {
		t.Fatal(err)
	}

	out, used, err := g.Generate(context.Background(), itemLookup("A"), buildSnapshot(t, true, true), 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(idx.calls) != 2 || idx.deployment != "papers" || idx.exclude != "A" {
		t.Errorf("search index calls %v deployment %q exclude %q", idx.calls, idx.deployment, idx.exclude)
	}
	if len(used) != 2 {
		t.Errorf("used backends: %v", used)
	}
	if len(out) != 3 || out[0].ItemID != "B" {
		t.Errorf("B is first in both lists and must lead the fused pool: %+v", out)
	}
}

func TestGenerate_SearchIndexFollowsSnapshotBackends(t *testing.T) {
	idx := &fakeSearchIndex{bm25: []index.Hit{{ID: "B", Score: 1}}}
	g, err := NewGenerator([]backend.Backend{backend.Dense, backend.Lexical},
		fusion.Params{}, zap.NewNop(), WithSearchIndex(idx, "papers"))
	if err != nil {
		t.Fatal(err)
	}

	_, used, err := g.Generate(context.Background(), itemLookup("A"), buildSnapshot(t, false, true), 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(idx.calls) != 1 || idx.calls[0] != "bm25" || len(used) != 1 || used[0] != "lexical" {
		t.Errorf("a snapshot without dense index must not query KNN: calls %v used %v", idx.calls, used)
	}
}

func TestGenerate_SearchIndexFailure(t *testing.T) {
	idx := &fakeSearchIndex{err: domain.ErrIndexUnavailable}
	g, err := NewGenerator([]backend.Backend{backend.Lexical}, fusion.Params{}, zap.NewNop(), WithSearchIndex(idx, "papers"))
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = g.Generate(context.Background(), itemLookup("A"), buildSnapshot(t, true, true), 3)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}
