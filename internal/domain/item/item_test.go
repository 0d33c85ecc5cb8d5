package item

import (
	"strings"
	"testing"
)

func TestNew_Valid(t *testing.T) {
	fields := map[string]string{"title": "Iris", "description": "flowers"}

	it, err := New("ds-1", fields, "datasets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.ID() != "ds-1" {
		t.Errorf("ID() = %q", it.ID())
	}
	if it.Domain() != "datasets" {
		t.Errorf("Domain() = %q", it.Domain())
	}
	if it.Field("title") != "Iris" {
		t.Errorf("Field(title) = %q", it.Field("title"))
	}
}

func TestNew_ClonesFields(t *testing.T) {
	fields := map[string]string{"title": "Iris"}
	it, _ := New("ds-1", fields, "")

	fields["title"] = "mutated"
	if it.Field("title") != "Iris" {
		t.Error("input mutation leaked into item")
	}

	out := it.Fields()
	out["title"] = "mutated"
	if it.Field("title") != "Iris" {
		t.Error("Fields() mutation leaked into item")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		fields map[string]string
	}{
		{"empty id", "", map[string]string{"title": "x"}},
		{"long id", strings.Repeat("a", 257), map[string]string{"title": "x"}},
		{"bad chars", "a*b", map[string]string{"title": "x"}},
		{"outer space", " a", map[string]string{"title": "x"}},
		{"double space", "a  b", map[string]string{"title": "x"}},
		{"no fields", "a", nil},
		{"blank fields", "a", map[string]string{"title": "  \n\t"}},
		{"empty field name", "a", map[string]string{" ": "x"}},
		{"too large", "a", map[string]string{"title": strings.Repeat("x", MaxTextSize+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.id, tt.fields, ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_PDFStyleID(t *testing.T) {
	if _, err := New("123.pdf", map[string]string{"contents": "x"}, "mathe"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_DatasetNameID(t *testing.T) {
	for _, id := range []string{"Penn Treebank", "MS COCO (2014)", "CIFAR-10", "O'Reilly+Friends"} {
		if _, err := New(id, map[string]string{"title": "x"}, "datafinder"); err != nil {
			t.Errorf("%q: unexpected error: %v", id, err)
		}
	}
}

func TestFieldOrder_Deterministic(t *testing.T) {
	fields := map[string]string{
		"zeta":        "z",
		"description": "d",
		"alpha":       "a",
		"title":       "t",
	}
	got := strings.Join(FieldOrder(fields), ",")
	want := "title,description,alpha,zeta"
	if got != want {
		t.Errorf("FieldOrder = %s, want %s", got, want)
	}
	for range 10 {
		if again := strings.Join(FieldOrder(fields), ","); again != want {
			t.Fatalf("order changed between calls: %s", again)
		}
	}
}

func TestNormalize(t *testing.T) {
	fields := map[string]string{
		"description": "  deep   learn-\n ing\tbenchmark ",
		"title":       "Bench\x00mark",
		"notes":       "   ",
	}
	got := Normalize(fields)
	want := "Benchmark\ndeep learning benchmark"
	if got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"   ", ""},
		{"a  b\n\nc", "a b c"},
		{"data-\nset", "dataset"},
		{"state-of-the-art", "state-of-the-art"},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDocument_MatchesNormalize(t *testing.T) {
	it, _ := New("x", map[string]string{"title": "machine learning datasets"}, "")
	if it.Document() != "machine learning datasets" {
		t.Errorf("Document() = %q", it.Document())
	}
}
