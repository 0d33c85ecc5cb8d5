package index

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

func buildHybridSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	d, err := BuildDense(testInfo, Cosine, []DenseEntry{
		{ID: "A", Vector: []float32{1, 1, 0}},
		{ID: "B", Vector: []float32{1, 0.8, 0.1}},
		{ID: "C", Vector: []float32{0, 0, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	docs := map[string]string{
		"A": "machine learning datasets",
		"B": "deep learning benchmark data",
		"C": "weather station readings",
	}
	l, err := BuildLexical([]LexicalDoc{{"A", docs["A"]}, {"B", docs["B"]}, {"C", docs["C"]}}, DefaultBM25())
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSnapshot(Manifest{Deployment: "datasets", Encoder: testInfo}, d, l, docs)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestArtifact_RoundTrip(t *testing.T) {
	s := buildHybridSnapshot(t)
	data, err := EncodeBytes(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(data, &testInfo)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID() != s.ID() || got.Len() != 3 {
		t.Errorf("manifest not restored: %+v", got.Manifest())
	}
	if got.Dense() == nil || got.Lexical() == nil {
		t.Fatal("both indexes must be restored")
	}

	want, _ := s.Dense().Query([]float32{1, 1, 0}, 2, "A")
	have, _ := got.Dense().Query([]float32{1, 1, 0}, 2, "A")
	if have[0].ID != want[0].ID {
		t.Errorf("dense results differ: %+v vs %+v", have, want)
	}
	if hits := got.Lexical().Query("learning", 5, "A"); len(hits) != 1 || hits[0].ID != "B" {
		t.Errorf("lexical results differ: %+v", hits)
	}
}

func TestArtifact_CorruptionFailsFast(t *testing.T) {
	data, _ := EncodeBytes(buildHybridSnapshot(t))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated header", func(b []byte) []byte { return b[:10] }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"future version", func(b []byte) []byte { b[4] = 9; return b }},
		{"flipped payload byte", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-5] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupted := tt.mutate(append([]byte(nil), data...))
			_, err := Decode(corrupted, nil)
			if !errors.Is(err, domain.ErrCorruptArtifact) {
				t.Fatalf("expected ErrCorruptArtifact, got %v", err)
			}
			if !errors.Is(err, domain.ErrIndexUnavailable) {
				t.Error("corrupt artifact must be an IndexUnavailable kind")
			}
		})
	}
}

func TestArtifact_EncoderMismatch(t *testing.T) {
	data, _ := EncodeBytes(buildHybridSnapshot(t))

	running := domain.EncoderInfo{Name: "test", Version: "2", Dimensions: 3}
	_, err := Decode(data, &running)
	if !errors.Is(err, domain.ErrEncoderMismatch) || !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected encoder mismatch, got %v", err)
	}
}

func TestArtifact_LexicalOnlyIgnoresEncoder(t *testing.T) {
	l, _ := BuildLexical([]LexicalDoc{{ID: "x", Text: "alpha beta"}}, DefaultBM25())
	s, _ := NewSnapshot(Manifest{}, nil, l, map[string]string{"x": "alpha beta"})
	data, _ := EncodeBytes(s)

	running := domain.EncoderInfo{Name: "other", Version: "9", Dimensions: 7}
	got, err := Decode(data, &running)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Dense() != nil {
		t.Error("dense index must stay absent")
	}
}
