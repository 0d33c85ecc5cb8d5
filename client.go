package itemrec

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/db"
	dbRedis "github.com/kailas-cloud/itemrec/internal/db/redis"
	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/fusion"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/request"
	"github.com/kailas-cloud/itemrec/internal/encoder/hashing"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/repository/artifact"
	itemrepo "github.com/kailas-cloud/itemrec/internal/repository/item"
	cataloguc "github.com/kailas-cloud/itemrec/internal/usecase/catalog"
	embeddinguc "github.com/kailas-cloud/itemrec/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/itemrec/internal/usecase/health"
	"github.com/kailas-cloud/itemrec/internal/usecase/indexer"
	"github.com/kailas-cloud/itemrec/internal/usecase/pipeline"
	"github.com/kailas-cloud/itemrec/internal/usecase/rerank"
	"github.com/kailas-cloud/itemrec/internal/usecase/retrieval"
)

const defaultReadinessTimeout = 10 * time.Second

// Внутренние интерфейсы для подмены в тестах.
type catalogUseCase interface {
	Ingest(ctx context.Context, items ...item.Item) (int, error)
	Get(ctx context.Context, id string) (item.Item, error)
	Items(ctx context.Context) ([]item.Item, error)
	Count(ctx context.Context) (int, error)
}

type indexUseCase interface {
	Rebuild(ctx context.Context) (*index.Snapshot, error)
	RestoreOrRebuild(ctx context.Context) (*index.Snapshot, error)
}

type recommendUseCase interface {
	Recommend(ctx context.Context, q request.Query, kPool, nResults int) (pipeline.Response, error)
	Snapshot() *index.Snapshot
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

// Recommender is the library entry point: one deployment over one corpus.
// It is safe for concurrent use; Build may run while Recommend is served.
type Recommender struct {
	name      string
	store     db.Store
	catalog   catalogUseCase
	indexer   indexUseCase
	pipeline  recommendUseCase
	healthSvc healthUseCase
	poolSize  int
	results   int
	obs       *observer
}

// New creates a Recommender. With WithRedis the provided context is used for
// the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Recommender, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	var store db.Store
	if len(cfg.addrs) > 0 {
		s, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.addrs, Password: cfg.password})
		if err != nil {
			return nil, fmt.Errorf("itemrec: create redis store: %w", err)
		}
		if err := s.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			s.Close()
			return nil, fmt.Errorf("itemrec: database not ready: %w", err)
		}
		store = s
	}

	r, err := wire(store, cfg, obs)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return r, nil
}

func wire(store db.Store, cfg *clientConfig, obs *observer) (*Recommender, error) {
	logger := zap.NewNop()

	names := make([]string, len(cfg.backends))
	for i, b := range cfg.backends {
		names[i] = string(b)
	}
	backends, err := backend.Parse(names)
	if err != nil {
		return nil, fmt.Errorf("itemrec: %w: %w", err, domain.ErrConfiguration)
	}

	var repo cataloguc.Repository = itemrepo.NewMemory()
	if store != nil {
		repo = itemrepo.New(store, cfg.keyPrefix)
	}
	catalog := cataloguc.New(repo, cfg.name, cfg.domain)

	needsEncoder := slices.Contains(backends, backend.Dense) || cfg.scorer != ScorerOverlap
	var (
		enc      *embeddinguc.Service
		encCheck domain.HealthChecker
	)
	if needsEncoder {
		enc, encCheck, err = newEncoder(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	// Pass nil interfaces (not typed nil pointers!) when there is no dense backend.
	var (
		docEnc   indexer.Encoder
		queryEnc pipeline.Encoder
	)
	if slices.Contains(backends, backend.Dense) {
		docEnc, queryEnc = enc, enc
	}

	var artifacts indexer.ArtifactStore
	switch {
	case store != nil:
		artifacts = artifact.NewKV(store, cfg.keyPrefix, cfg.name)
	case cfg.artifactPath != "":
		artifacts = artifact.NewFile(cfg.artifactPath)
	}

	holder := &index.Holder{}
	idx, err := indexer.New(indexer.Config{Deployment: cfg.name, Backends: backends}, holder, catalog, docEnc, artifacts, logger)
	if err != nil {
		return nil, err
	}

	params := fusion.Params{Rule: fusion.Rule(cfg.fusion)}
	gen, err := retrieval.NewGenerator(backends, params, logger)
	if err != nil {
		return nil, err
	}

	scorer, err := newScorer(cfg.scorer, enc)
	if err != nil {
		return nil, err
	}
	reranker, err := rerank.NewService(scorer, rerank.Config{MaxPool: cfg.maxPool}, logger)
	if err != nil {
		return nil, err
	}

	var pcat pipeline.Catalog
	if store != nil {
		pcat = catalog
	}
	orch, err := pipeline.New(pipeline.Config{
		Deployment: cfg.name,
		MaxPool:    cfg.maxPool,
		Fusion:     gen.Fusion(),
		CacheSize:  cfg.cacheSize,
	}, holder, pcat, queryEnc, gen, reranker, logger)
	if err != nil {
		return nil, err
	}
	idx.OnSwap(func(*index.Snapshot) { orch.PurgeCache() })

	registry := pipeline.NewRegistry()
	if err := registry.Register(orch); err != nil {
		return nil, err
	}

	embedders := map[string]healthuc.EmbeddingChecker{}
	if encCheck != nil {
		embedders[cfg.name] = encCheck
	}
	// Pass nil interface (not typed nil pointer!) if the store is not configured.
	var pinger healthuc.DBPinger
	if store != nil {
		pinger = store
	}

	return &Recommender{
		name:      cfg.name,
		store:     store,
		catalog:   catalog,
		indexer:   idx,
		pipeline:  orch,
		healthSvc: healthuc.New(pinger, embedders, registry),
		poolSize:  min(cfg.poolSize, cfg.maxPool),
		results:   cfg.results,
		obs:       obs,
	}, nil
}

func newEncoder(cfg *clientConfig, logger *zap.Logger) (*embeddinguc.Service, domain.HealthChecker, error) {
	if cfg.embedder != nil {
		info := domain.EncoderInfo(cfg.encoderInfo)
		a := &embedderAdapter{inner: cfg.embedder, info: info}
		svc, err := embeddinguc.NewService(a, info, 0, logger)
		return svc, a, err
	}
	h, err := hashing.New(cfg.dimensions, "")
	if err != nil {
		return nil, nil, err
	}
	svc, err := embeddinguc.NewService(h, h.Info(), 0, logger)
	return svc, h, err
}

func newScorer(s Scorer, enc *embeddinguc.Service) (rerank.Scorer, error) {
	switch s {
	case ScorerOverlap:
		return rerank.NewOverlap(), nil
	case ScorerEmbedding:
		return rerank.NewEmbedding(enc), nil
	case ScorerBlend:
		return rerank.NewBlend(
			rerank.Component{Scorer: rerank.NewOverlap(), Weight: 0.5},
			rerank.Component{Scorer: rerank.NewEmbedding(enc), Weight: 0.5},
		)
	default:
		return nil, fmt.Errorf("itemrec: unknown scorer %q: %w", s, domain.ErrConfiguration)
	}
}

// Close releases all resources.
func (r *Recommender) Close() {
	if r.store != nil {
		r.store.Close()
	}
}

// Name returns the deployment name.
func (r *Recommender) Name() string { return r.name }

// Add ingests items. An item whose id already exists replaces it.
// Changes become visible to Recommend after the next Build.
func (r *Recommender) Add(ctx context.Context, items ...Item) (n int, err error) {
	start := time.Now()
	defer func() { r.obs.observe("add", start, err) }()

	converted := make([]item.Item, len(items))
	for i, it := range items {
		converted[i], err = item.New(it.ID, it.Fields, it.Domain)
		if err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return r.catalog.Ingest(ctx, converted...)
}

// Get returns an ingested item.
func (r *Recommender) Get(ctx context.Context, id string) (Item, error) {
	it, err := r.catalog.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return fromDomainItem(it), nil
}

// Items returns all ingested items sorted by id.
func (r *Recommender) Items(ctx context.Context) ([]Item, error) {
	items, err := r.catalog.Items(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = fromDomainItem(it)
	}
	return out, nil
}

// Count returns the number of ingested items.
func (r *Recommender) Count(ctx context.Context) (int, error) {
	return r.catalog.Count(ctx)
}

// Build embeds and indexes the current corpus and publishes the snapshot.
// On failure the previous snapshot keeps serving.
func (r *Recommender) Build(ctx context.Context) (info BuildInfo, err error) {
	start := time.Now()
	defer func() { r.obs.observe("build", start, err) }()

	snap, err := r.indexer.Rebuild(ctx)
	if snap != nil {
		info = buildInfo(snap)
	}
	return info, err
}

// Open restores the persisted snapshot, building one when none exists.
func (r *Recommender) Open(ctx context.Context) (info BuildInfo, err error) {
	start := time.Now()
	defer func() { r.obs.observe("open", start, err) }()

	snap, err := r.indexer.RestoreOrRebuild(ctx)
	if snap != nil {
		info = buildInfo(snap)
	}
	return info, err
}

// Recommend returns up to n items related to an indexed item, excluding the item itself.
// n <= 0 means the configured default.
func (r *Recommender) Recommend(ctx context.Context, id string, n int) (res Result, err error) {
	start := time.Now()
	defer func() { r.obs.observe("recommend", start, err) }()

	q, err := request.NewItemQuery(id)
	if err != nil {
		return Result{}, err
	}
	return r.run(ctx, q, n)
}

// RecommendText returns up to n indexed items related to ad-hoc text.
func (r *Recommender) RecommendText(ctx context.Context, text string, n int) (res Result, err error) {
	start := time.Now()
	defer func() { r.obs.observe("recommend_text", start, err) }()

	q, err := request.NewTextQuery(text)
	if err != nil {
		return Result{}, err
	}
	return r.run(ctx, q, n)
}

func (r *Recommender) run(ctx context.Context, q request.Query, n int) (Result, error) {
	if n <= 0 {
		n = r.results
	}
	resp, err := r.pipeline.Recommend(ctx, q, max(r.poolSize, n), n)
	if err != nil {
		return Result{}, err
	}
	return toResult(resp), nil
}

// Snapshot describes the live snapshot. ok is false before the first Build or Open.
func (r *Recommender) Snapshot() (info BuildInfo, ok bool) {
	snap := r.pipeline.Snapshot()
	if snap == nil {
		return BuildInfo{}, false
	}
	return buildInfo(snap), true
}

// Ping checks database connectivity. Without Redis it always succeeds.
func (r *Recommender) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { r.obs.observe("ping", start, err) }()

	if r.store == nil {
		return nil
	}
	if err = r.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Health checks the health of all components.
func (r *Recommender) Health(ctx context.Context) HealthStatus {
	report := r.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}

func fromDomainItem(it item.Item) Item {
	return Item{ID: it.ID(), Fields: it.Fields(), Domain: it.Domain()}
}

func buildInfo(snap *index.Snapshot) BuildInfo {
	m := snap.Manifest()
	info := BuildInfo{SnapshotID: m.ID, Items: m.ItemCount, BuiltAt: m.BuiltAt}
	if m.Encoder.Name != "" {
		info.Encoder = m.Encoder.String()
	}
	return info
}

func toResult(resp pipeline.Response) Result {
	recs := make([]Recommendation, len(resp.Results))
	for i, rk := range resp.Results {
		recs[i] = Recommendation{ID: rk.ItemID, Score: rk.FinalScore, Rank: rk.Rank}
	}
	p := resp.Provenance
	durations := make(map[string]time.Duration, len(p.DurationsMs))
	for stage, ms := range p.DurationsMs {
		durations[stage] = time.Duration(ms * float64(time.Millisecond))
	}
	return Result{
		Recommendations: recs,
		Provenance: Provenance{
			SnapshotID:      p.SnapshotID,
			Encoder:         p.Encoder,
			Backends:        p.Backends,
			Fusion:          p.Fusion,
			Scorer:          p.Scorer,
			Candidates:      p.Candidates,
			FailedScores:    p.FailedScores,
			EmbeddingReused: p.EmbeddingReused,
			Cached:          p.Cached,
			Durations:       durations,
		},
	}
}
