package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
	openaiTransport "github.com/kailas-cloud/itemrec/internal/transport/openai"
)

type scriptedLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.reply(prompt)
}

func weather(t *testing.T) item.Item {
	t.Helper()
	it, err := item.New("weather", map[string]string{
		"title":            "Weather Stations",
		"headline":         "Hourly readings",
		"description":      "Readings from rural stations.",
		"keywords":         "weather, climate",
		"field_of_science": "Meteorology",
		"formats":          "application/json, text/csv",
		"structure":        "readings: a, b, c; stations: id; third: ",
	}, "croissant")
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func sparse(t *testing.T, id string) item.Item {
	t.Helper()
	it, err := item.New(id, map[string]string{"title": id}, "croissant")
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func TestPrompt(t *testing.T) {
	p := Prompt(weather(t))
	for _, want := range []string{
		"Description:\nReadings from rural stations.",
		"Headline:\nHourly readings",
		"Encoding format(s): application/json, text/csv",
		"The dataset contains the following records:\n- 'readings' with fields: a, b, c\n- 'stations' with fields: id\n",
		"Keywords: weather, climate",
		"Scientific domain: Meteorology",
		"100-200 words",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt lacks %q:\n%s", want, p)
		}
	}
	if strings.Contains(p, "'third'") {
		t.Error("record set without fields leaked into the structure summary")
	}

	p = Prompt(sparse(t, "bare"))
	if strings.Contains(p, "Encoding format(s)") || strings.Contains(p, "Structure Summary") {
		t.Errorf("optional sections must be omitted:\n%s", p)
	}
}

func TestEnrich_ReusesKnownAndIsolatesFailures(t *testing.T) {
	llm := &scriptedLLM{reply: func(p string) (string, error) {
		if strings.Contains(p, "Headline:\nbroken\n") {
			return "", fmt.Errorf("chat API error 502: bad gateway: %w", domain.ErrCompletionProviderError)
		}
		return "A generated abstract.", nil
	}}
	broken, err := item.New("broken", map[string]string{"title": "x", "headline": "broken"}, "")
	if err != nil {
		t.Fatal(err)
	}
	items := []item.Item{weather(t), sparse(t, "known"), broken}

	rep, err := New(llm, "datagems", 2, zap.NewNop()).Enrich(context.Background(), items,
		map[string]string{"known": "Stored abstract."})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Generated != 1 || rep.Reused != 1 || len(rep.Failed) != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	if rep.Failed["broken"] != "encoder_unavailable" {
		t.Errorf("failure kind: %v", rep.Failed)
	}
	if len(llm.prompts) != 2 {
		t.Errorf("known abstract must not be regenerated, %d calls", len(llm.prompts))
	}
	if rep.Descriptions["weather"] != "A generated abstract." || rep.Descriptions["known"] != "Stored abstract." {
		t.Errorf("descriptions: %v", rep.Descriptions)
	}
	if _, ok := rep.Descriptions["broken"]; ok {
		t.Error("failed item got a description")
	}
}

func TestEnrich_CancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &scriptedLLM{reply: func(string) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	_, err := New(llm, "d", 1, zap.NewNop()).Enrich(ctx, []item.Item{sparse(t, "a"), sparse(t, "b")}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestApply(t *testing.T) {
	items := []item.Item{weather(t), sparse(t, "bare")}
	out, err := Apply(items, map[string]string{"weather": "  Abstract text.  "})
	if err != nil {
		t.Fatal(err)
	}
	if got := out[0].Field(Field); got != "Abstract text." {
		t.Errorf("%s = %q", Field, got)
	}
	if !strings.Contains(out[0].Document(), "Abstract text.") {
		t.Errorf("abstract is not part of the indexed document: %q", out[0].Document())
	}
	if out[0].Domain() != "croissant" || out[0].Field("headline") != "Hourly readings" {
		t.Error("original fields lost")
	}
	if out[1].Field(Field) != "" {
		t.Error("item without an abstract was changed")
	}
	if items[0].Field(Field) != "" {
		t.Error("input item mutated")
	}
}

func TestFile_RoundTripAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enriched.jsonl")
	got, err := ReadFile(path)
	if err != nil || len(got) != 0 {
		t.Fatalf("missing file: %v %v", got, err)
	}
	want := map[string]string{"b": "Second <abstract>.", "a": "First."}
	if err := WriteFile(path, want); err != nil {
		t.Fatal(err)
	}
	got, err = ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["a"] != "First." || got["b"] != "Second <abstract>." {
		t.Errorf("round trip: %v", got)
	}
}

func TestEnrich_OpenAICompatibleProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 1 {
			t.Errorf("decode: %v", err)
		}
		if !strings.Contains(req.Messages[0].Content, "Scientific domain: Meteorology") {
			t.Errorf("prompt does not carry the metadata: %q", req.Messages[0].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "Hourly weather station readings for climate research."},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)

	llm := openaiTransport.NewCompleter(&openaiTransport.CompleterConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		Model:   "mistral-7b-instruct",
		Logger:  zap.NewNop(),
	})
	rep, err := New(llm, "datagems", 0, zap.NewNop()).Enrich(context.Background(), []item.Item{weather(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 || rep.Generated != 1 {
		t.Fatalf("calls=%d report=%+v", calls.Load(), rep)
	}
	out, err := Apply([]item.Item{weather(t)}, rep.Descriptions)
	if err != nil {
		t.Fatal(err)
	}
	if got := out[0].Field(Field); got != "Hourly weather station readings for climate research." {
		t.Errorf("%s = %q", Field, got)
	}
}
