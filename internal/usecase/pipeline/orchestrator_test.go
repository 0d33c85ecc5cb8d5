package pipeline

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/candidate"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/fusion"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/request"
	"github.com/kailas-cloud/itemrec/internal/encoder/hashing"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/metrics"
	"github.com/kailas-cloud/itemrec/internal/usecase/embedding"
	"github.com/kailas-cloud/itemrec/internal/usecase/rerank"
	"github.com/kailas-cloud/itemrec/internal/usecase/retrieval"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

var abc = map[string]string{
	"A": "machine learning datasets",
	"B": "deep learning benchmark data",
	"C": "weather station readings",
}

func newEncoder(t *testing.T) *embedding.Service {
	t.Helper()
	enc, err := hashing.New(64, "1")
	if err != nil {
		t.Fatal(err)
	}
	svc, err := embedding.NewService(enc, enc.Info(), 0, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func buildSnapshot(t *testing.T, enc *embedding.Service, docs map[string]string) *index.Snapshot {
	t.Helper()
	var entries []index.DenseEntry
	var ldocs []index.LexicalDoc
	for id, text := range docs {
		vec, err := enc.Embed(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, index.DenseEntry{ID: id, Vector: vec})
		ldocs = append(ldocs, index.LexicalDoc{ID: id, Text: text})
	}
	dense, err := index.BuildDense(enc.Info(), index.Cosine, entries)
	if err != nil {
		t.Fatal(err)
	}
	lex, err := index.BuildLexical(ldocs, index.DefaultBM25())
	if err != nil {
		t.Fatal(err)
	}
	snap, err := index.NewSnapshot(index.Manifest{Deployment: "test", Encoder: enc.Info()}, dense, lex, docs)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

type fixture struct {
	holder *index.Holder
	enc    *embedding.Service
	gen    *retrieval.Generator
	rr     *rerank.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	enc := newEncoder(t)
	holder := &index.Holder{}
	holder.Store(buildSnapshot(t, enc, abc))

	gen, err := retrieval.NewGenerator([]backend.Backend{backend.Dense, backend.Lexical}, fusion.Params{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	rr, err := rerank.NewService(rerank.NewOverlap(), rerank.Config{MaxPool: 10}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{holder: holder, enc: enc, gen: gen, rr: rr}
}

func (f *fixture) orchestrator(t *testing.T, cfg Config, gen Generator, rr Reranker, enc Encoder) *Orchestrator {
	t.Helper()
	if cfg.Deployment == "" {
		cfg.Deployment = "test"
	}
	if cfg.MaxPool == 0 {
		cfg.MaxPool = 10
	}
	if gen == nil {
		gen = f.gen
	}
	if rr == nil {
		rr = f.rr
	}
	o, err := New(cfg, f.holder, nil, enc, gen, rr, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func itemQuery(t *testing.T, id string) request.Query {
	t.Helper()
	q, err := request.NewItemQuery(id)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

// spyGenerator records calls and delegates or blocks.
type spyGenerator struct {
	inner Generator
	calls atomic.Int32
	block int32 // block until ctx is done for the first block calls
}

func (s *spyGenerator) Generate(ctx context.Context, p retrieval.Lookup, snap *index.Snapshot, k int) ([]candidate.Candidate, []string, error) {
	n := s.calls.Add(1)
	if n <= s.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	return s.inner.Generate(ctx, p, snap, k)
}

type spyReranker struct {
	inner Reranker
	calls atomic.Int32
	block bool
}

func (s *spyReranker) Rerank(ctx context.Context, q string, snap *index.Snapshot, pool []candidate.Candidate, n int) (rerank.Outcome, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return rerank.Outcome{}, ctx.Err()
	}
	return s.inner.Rerank(ctx, q, snap, pool, n)
}

func (s *spyReranker) Scorer() string { return s.inner.Scorer() }

type slowEncoder struct {
	*embedding.Service
	calls atomic.Int32
	slow  int32
}

func (s *slowEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.calls.Add(1) <= s.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Service.Embed(ctx, text)
}

func TestRecommend_ScenarioRelatedItem(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, nil, nil, f.enc)

	resp, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ItemID != "B" {
		t.Fatalf("expected [B], got %v", resp.Results)
	}
	if resp.Results[0].Rank != 1 {
		t.Errorf("expected rank 1, got %d", resp.Results[0].Rank)
	}
	p := resp.Provenance
	if p.SnapshotID != f.holder.Load().ID() || !p.EmbeddingReused || p.Scorer != "overlap" || p.Fusion != "rrf" {
		t.Errorf("unexpected provenance: %+v", p)
	}
	if len(p.Backends) != 2 || p.Candidates != 2 {
		t.Errorf("expected 2 backends and 2 candidates, got %+v", p)
	}
	want := []State{StateIdle, StateIngested, StateEmbedded, StateCandidatesGenerated, StateReranked, StateDone}
	if len(p.Trace) != len(want) {
		t.Fatalf("unexpected trace %v", p.Trace)
	}
	for i := range want {
		if p.Trace[i] != want[i] {
			t.Errorf("trace[%d] = %s, want %s", i, p.Trace[i], want[i])
		}
	}
}

func TestRecommend_ScenarioEmptyText(t *testing.T) {
	f := newFixture(t)
	gen := &spyGenerator{inner: f.gen}
	o := f.orchestrator(t, Config{}, gen, nil, f.enc)

	for _, text := range []string{"", "   "} {
		if _, err := request.NewTextQuery(text); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", text, err)
		}
	}
	_, err := o.Recommend(context.Background(), request.Query{}, 2, 1)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if domain.StageOf(err) != domain.StageValidate {
		t.Errorf("expected validate stage, got %s", domain.StageOf(err))
	}
	if gen.calls.Load() != 0 {
		t.Error("no stage may run for an empty query")
	}
}

func TestRecommend_ScenarioNLargerThanK(t *testing.T) {
	f := newFixture(t)
	rr := &spyReranker{inner: f.rr}
	o := f.orchestrator(t, Config{}, nil, rr, f.enc)

	_, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 5)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if rr.calls.Load() != 0 {
		t.Error("re-ranking must not be invoked")
	}
}

func TestRecommend_PoolAboveMax(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{MaxPool: 3}, nil, nil, f.enc)

	_, err := o.Recommend(context.Background(), itemQuery(t, "A"), 4, 1)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRecommend_UnknownItem(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, nil, nil, f.enc)

	_, err := o.Recommend(context.Background(), itemQuery(t, "Z"), 2, 1)
	if !errors.Is(err, domain.ErrItemNotFound) || !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if domain.StageOf(err) != domain.StageIngest {
		t.Errorf("expected ingest stage, got %s", domain.StageOf(err))
	}
}

func TestRecommend_TextQuery(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, nil, nil, f.enc)

	q, err := request.NewTextQuery("weather readings from a station")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := o.Recommend(context.Background(), q, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results[0].ItemID != "C" {
		t.Errorf("expected C, got %v", resp.Results)
	}
	if resp.Provenance.EmbeddingReused {
		t.Error("text query must be embedded")
	}
}

func TestRecommend_NoIndex(t *testing.T) {
	f := newFixture(t)
	f.holder = &index.Holder{}
	o := f.orchestrator(t, Config{}, nil, nil, f.enc)

	_, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestRecommend_LexicalOnlyDeployment(t *testing.T) {
	f := newFixture(t)
	gen, err := retrieval.NewGenerator([]backend.Backend{backend.Lexical}, fusion.Params{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	o := f.orchestrator(t, Config{}, gen, nil, nil)

	resp, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results[0].ItemID != "B" || resp.Provenance.Encoder != "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRecommend_EncoderMismatch(t *testing.T) {
	f := newFixture(t)
	other, _ := hashing.New(64, "2")
	enc, _ := embedding.NewService(other, other.Info(), 0, zap.NewNop())
	o := f.orchestrator(t, Config{}, nil, nil, enc)

	q, _ := request.NewTextQuery("machine learning")
	_, err := o.Recommend(context.Background(), q, 2, 1)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRecommend_EmbedTimeoutRetried(t *testing.T) {
	f := newFixture(t)
	enc := &slowEncoder{Service: f.enc, slow: 1}
	o := f.orchestrator(t, Config{
		Timeouts: Timeouts{Embed: 20 * time.Millisecond},
		Retry:    Retry{Attempts: 1},
	}, nil, nil, enc)

	q, _ := request.NewTextQuery("machine learning")
	if _, err := o.Recommend(context.Background(), q, 2, 1); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if enc.calls.Load() != 2 {
		t.Errorf("expected 2 encoder calls, got %d", enc.calls.Load())
	}
}

func TestRecommend_EmbedTimeoutNoRetry(t *testing.T) {
	f := newFixture(t)
	enc := &slowEncoder{Service: f.enc, slow: 5}
	o := f.orchestrator(t, Config{Timeouts: Timeouts{Embed: 10 * time.Millisecond}}, nil, nil, enc)

	q, _ := request.NewTextQuery("machine learning")
	_, err := o.Recommend(context.Background(), q, 2, 1)
	if !errors.Is(err, domain.ErrRetrievalTimeout) {
		t.Fatalf("expected ErrRetrievalTimeout, got %v", err)
	}
	if domain.StageOf(err) != domain.StageEmbed {
		t.Errorf("expected embed stage, got %s", domain.StageOf(err))
	}
	if enc.calls.Load() != 1 {
		t.Errorf("expected 1 encoder call, got %d", enc.calls.Load())
	}
}

func TestRecommend_RetrieveTimeout(t *testing.T) {
	f := newFixture(t)
	gen := &spyGenerator{inner: f.gen, block: 2}
	o := f.orchestrator(t, Config{
		Timeouts: Timeouts{Retrieve: 10 * time.Millisecond},
		Retry:    Retry{Attempts: 1, Backoff: time.Millisecond},
	}, gen, nil, f.enc)

	_, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if !errors.Is(err, domain.ErrRetrievalTimeout) {
		t.Fatalf("expected ErrRetrievalTimeout, got %v", err)
	}
	if gen.calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", gen.calls.Load())
	}
}

func TestRecommend_RerankTimeout(t *testing.T) {
	f := newFixture(t)
	rr := &spyReranker{inner: f.rr, block: true}
	o := f.orchestrator(t, Config{Timeouts: Timeouts{Rerank: 10 * time.Millisecond}}, nil, rr, f.enc)

	_, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if !errors.Is(err, domain.ErrRerankTimeout) {
		t.Fatalf("expected ErrRerankTimeout, got %v", err)
	}
	if domain.StageOf(err) != domain.StageRerank {
		t.Errorf("expected rerank stage, got %s", domain.StageOf(err))
	}
}

type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, *index.Snapshot, []candidate.Candidate, int) (rerank.Outcome, error) {
	return rerank.Outcome{}, domain.ErrScoringFailed
}

func (failingReranker) Scorer() string { return "failing" }

func TestRecommend_NonTimeoutErrorNotRetried(t *testing.T) {
	f := newFixture(t)
	rr := &spyReranker{inner: failingReranker{}}
	o := f.orchestrator(t, Config{Retry: Retry{Attempts: 1}}, nil, rr, f.enc)

	_, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if !errors.Is(err, domain.ErrScoringFailed) {
		t.Fatalf("expected ErrScoringFailed, got %v", err)
	}
	if rr.calls.Load() != 1 {
		t.Errorf("expected no retry, got %d calls", rr.calls.Load())
	}
}

func TestRecommend_Cache(t *testing.T) {
	f := newFixture(t)
	gen := &spyGenerator{inner: f.gen}
	o := f.orchestrator(t, Config{CacheSize: 8}, gen, nil, f.enc)

	first, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Provenance.Cached || second.Results[0] != first.Results[0] {
		t.Errorf("expected cached identical response, got %+v", second)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("expected 1 generator call, got %d", gen.calls.Load())
	}

	// новый снапшот: новый ключ
	f.holder.Store(buildSnapshot(t, f.enc, abc))
	third, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if third.Provenance.Cached || gen.calls.Load() != 2 {
		t.Errorf("snapshot swap must invalidate the cache")
	}
}

func TestRecommend_SnapshotSwapDuringRequests(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, nil, nil, f.enc)

	snaps := make([]*index.Snapshot, 20)
	for i := range snaps {
		snaps[i] = buildSnapshot(t, f.enc, abc)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range snaps {
			f.holder.Store(s)
		}
	}()
	for range 50 {
		resp, err := o.Recommend(context.Background(), itemQuery(t, "A"), 2, 1)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Results[0].ItemID != "B" {
			t.Fatalf("expected B, got %v", resp.Results)
		}
	}
	<-done
}

func TestNew_InvalidConfig(t *testing.T) {
	f := newFixture(t)
	if _, err := New(Config{Retry: Retry{Attempts: 2}}, f.holder, nil, nil, f.gen, f.rr, zap.NewNop()); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for 2 retries, got %v", err)
	}
	if _, err := New(Config{}, nil, nil, nil, f.gen, f.rr, zap.NewNop()); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration without snapshots, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry()
	for _, name := range []string{"mathe", "datasets"} {
		if err := r.Register(f.orchestrator(t, Config{Deployment: name}, nil, nil, f.enc)); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Register(f.orchestrator(t, Config{Deployment: "mathe"}, nil, nil, f.enc)); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected duplicate registration to fail, got %v", err)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "datasets" {
		t.Errorf("unexpected names %v", names)
	}
	if _, err := r.Get("weather"); !errors.Is(err, domain.ErrUnknownDeployment) {
		t.Errorf("expected ErrUnknownDeployment, got %v", err)
	}
}
