// Package pipeline runs one recommend request through ingest, embed, retrieve and rerank.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/candidate"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/fusion"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/request"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/result"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/logger"
	"github.com/kailas-cloud/itemrec/internal/metrics"
	"github.com/kailas-cloud/itemrec/internal/usecase/rerank"
	"github.com/kailas-cloud/itemrec/internal/usecase/retrieval"
)

// Timeouts bound each stage.
type Timeouts struct {
	Embed    time.Duration
	Retrieve time.Duration
	Rerank   time.Duration
}

// Retry controls re-execution of a stage that timed out. Attempts is 0 or 1.
type Retry struct {
	Attempts int
	Backoff  time.Duration
}

// Config is the per-deployment orchestration setup.
type Config struct {
	Deployment string
	MaxPool    int
	Fusion     fusion.Params
	Timeouts   Timeouts
	Retry      Retry
	CacheSize  int // 0 disables the response cache
}

// Provenance describes how a response was produced.
type Provenance struct {
	Deployment      string             `json:"deployment"`
	SnapshotID      string             `json:"snapshot_id"`
	Encoder         string             `json:"encoder,omitempty"`
	Backends        []string           `json:"backends"`
	Fusion          string             `json:"fusion"`
	Scorer          string             `json:"scorer"`
	PoolSize        int                `json:"pool_size"`
	Candidates      int                `json:"candidates"`
	Results         int                `json:"results"`
	FailedScores    int                `json:"failed_scores"`
	EmbeddingReused bool               `json:"embedding_reused"`
	Cached          bool               `json:"cached"`
	DurationsMs     map[string]float64 `json:"durations_ms"`
	Trace           []State            `json:"trace"`
}

// Response is the ranked list with its provenance.
type Response struct {
	Results    []result.Ranked `json:"results"`
	Provenance Provenance      `json:"provenance"`
}

// Orchestrator is the sole caller-facing recommend surface of a deployment.
type Orchestrator struct {
	cfg       Config
	snapshots Snapshots
	catalog   Catalog
	encoder   Encoder // nil when the dense backend is not configured
	generator Generator
	reranker  Reranker
	cache     *lru.Cache[string, Response]
	logger    *zap.Logger
}

// New wires an orchestrator. catalog may be nil: indexed documents are then
// resolved from the live snapshot.
func New(
	cfg Config, snapshots Snapshots, catalog Catalog, encoder Encoder,
	generator Generator, reranker Reranker, logger *zap.Logger,
) (*Orchestrator, error) {
	if snapshots == nil || generator == nil || reranker == nil {
		return nil, fmt.Errorf("pipeline %s: snapshots, generator and reranker are required: %w",
			cfg.Deployment, domain.ErrConfiguration)
	}
	if cfg.Retry.Attempts < 0 || cfg.Retry.Attempts > 1 {
		return nil, fmt.Errorf("pipeline %s: retry attempts must be 0 or 1: %w", cfg.Deployment, domain.ErrConfiguration)
	}
	cfg.Fusion = cfg.Fusion.WithDefaults()

	o := &Orchestrator{
		cfg:       cfg,
		snapshots: snapshots,
		catalog:   catalog,
		encoder:   encoder,
		generator: generator,
		reranker:  reranker,
		logger:    logger,
	}
	if cfg.CacheSize > 0 {
		c, err := lru.New[string, Response](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: response cache: %w", cfg.Deployment, err)
		}
		o.cache = c
	}
	return o, nil
}

// Deployment returns the deployment name.
func (o *Orchestrator) Deployment() string { return o.cfg.Deployment }

// MaxPool returns the largest accepted pool size.
func (o *Orchestrator) MaxPool() int { return o.cfg.MaxPool }

// Snapshot returns the live snapshot, nil before the first build.
func (o *Orchestrator) Snapshot() *index.Snapshot { return o.snapshots.Load() }

// PurgeCache drops all cached responses.
func (o *Orchestrator) PurgeCache() {
	if o.cache != nil {
		o.cache.Purge()
	}
}

// Recommend returns up to nResults items related to q, re-ranked from a pool of kPool candidates.
// Callers get either a full result or one error wrapped in *domain.StageError.
func (o *Orchestrator) Recommend(ctx context.Context, q request.Query, kPool, nResults int) (Response, error) {
	start := time.Now()
	r := newRun()
	prov := Provenance{
		Deployment:  o.cfg.Deployment,
		PoolSize:    kPool,
		Fusion:      string(o.cfg.Fusion.Rule),
		Scorer:      o.reranker.Scorer(),
		DurationsMs: make(map[string]float64, 4),
	}

	results, err := o.recommend(ctx, r, q, kPool, nResults, &prov)
	if err != nil {
		r.fail()
	}
	prov.Trace = r.trace
	o.observe(ctx, q, &prov, time.Since(start), err)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: results, Provenance: prov}, nil
}

func (o *Orchestrator) recommend(
	ctx context.Context, r *run, q request.Query, kPool, nResults int, prov *Provenance,
) ([]result.Ranked, error) {
	if err := q.Validate(); err != nil {
		return nil, domain.NewStageError(domain.StageValidate, err)
	}
	sizes, err := request.NewSizes(kPool, nResults, o.cfg.MaxPool)
	if err != nil {
		return nil, domain.NewStageError(domain.StageValidate, err)
	}

	// Снапшот читается один раз: параллельный rebuild не меняет его посреди запроса
	snap := o.snapshots.Load()
	if snap == nil {
		return nil, domain.NewStageError(domain.StageRetrieve,
			fmt.Errorf("deployment %s has no index: %w", o.cfg.Deployment, domain.ErrIndexUnavailable))
	}
	prov.SnapshotID = snap.ID()

	cacheKey := o.cacheKey(snap, q, sizes)
	if cached, ok := o.cacheGet(cacheKey); ok {
		*prov = cached.Provenance
		prov.Cached = true
		prov.DurationsMs = map[string]float64{}
		r.trace = slices.Clone(cached.Provenance.Trace)
		return slices.Clone(cached.Results), nil
	}

	// Ingested
	doc, err := o.ingest(ctx, q, snap)
	if err != nil {
		return nil, domain.NewStageError(domain.StageIngest, err)
	}
	r.advance(StateIngested)

	// Embedded
	lookup := retrieval.Lookup{ItemID: q.ItemID(), Text: doc}
	if err := o.embed(ctx, q, snap, &lookup, prov); err != nil {
		return nil, err
	}
	r.advance(StateEmbedded)

	// CandidatesGenerated
	var pool []candidate.Candidate
	err = o.stage(ctx, domain.StageRetrieve, o.cfg.Timeouts.Retrieve, prov, func(ctx context.Context) error {
		var gerr error
		pool, prov.Backends, gerr = o.generator.Generate(ctx, lookup, snap, sizes.Pool)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	prov.Candidates = len(pool)
	metrics.CandidatePoolSize.WithLabelValues(o.cfg.Deployment).Observe(float64(len(pool)))
	r.advance(StateCandidatesGenerated)

	// Reranked
	var outcome rerank.Outcome
	err = o.stage(ctx, domain.StageRerank, o.cfg.Timeouts.Rerank, prov, func(ctx context.Context) error {
		var rerr error
		outcome, rerr = o.reranker.Rerank(ctx, doc, snap, pool, sizes.Results)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	prov.FailedScores = outcome.Failed
	prov.Results = len(outcome.Results)
	r.advance(StateReranked)

	r.advance(StateDone)
	prov.Trace = r.trace
	o.cachePut(cacheKey, Response{Results: outcome.Results, Provenance: *prov})
	return outcome.Results, nil
}

// ingest resolves the query into a normalized document.
func (o *Orchestrator) ingest(ctx context.Context, q request.Query, snap *index.Snapshot) (string, error) {
	if !q.IsItem() {
		doc := item.NormalizeText(q.Text())
		if doc == "" {
			return "", fmt.Errorf("query text: %w", domain.ErrEmptyText)
		}
		return doc, nil
	}

	if o.catalog == nil {
		doc, ok := snap.Document(q.ItemID())
		if !ok {
			return "", fmt.Errorf("item %q: %w", q.ItemID(), domain.ErrItemNotFound)
		}
		return doc, nil
	}
	doc, err := o.catalog.Document(ctx, q.ItemID())
	if err != nil {
		return "", fmt.Errorf("resolve item %q: %w", q.ItemID(), err)
	}
	return doc, nil
}

// embed fills lookup.Vector. An indexed query item reuses its stored vector.
func (o *Orchestrator) embed(
	ctx context.Context, q request.Query, snap *index.Snapshot, lookup *retrieval.Lookup, prov *Provenance,
) error {
	dense := snap.Dense()
	if o.encoder == nil || dense == nil {
		return nil
	}
	prov.Encoder = dense.Info().String()

	if q.IsItem() {
		if vec, ok := dense.Vector(q.ItemID()); ok {
			lookup.Vector = vec
			prov.EmbeddingReused = true
			return nil
		}
	}

	if info := o.encoder.Info(); info != dense.Info() {
		return domain.NewStageError(domain.StageEmbed, fmt.Errorf(
			"query encoder %s, index built with %s: %w", info, dense.Info(), domain.ErrEncoderMismatch))
	}

	return o.stage(ctx, domain.StageEmbed, o.cfg.Timeouts.Embed, prov, func(ctx context.Context) error {
		vec, err := o.encoder.Embed(ctx, lookup.Text)
		if err != nil {
			return err
		}
		lookup.Vector = vec
		return nil
	})
}

// stage runs fn under the stage timeout. Timeouts are retried per Config.Retry;
// other errors are returned at once. Every error leaves as *domain.StageError.
func (o *Orchestrator) stage(
	ctx context.Context, stage domain.Stage, timeout time.Duration, prov *Provenance,
	fn func(ctx context.Context) error,
) error {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		sctx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(sctx)
		cancel()

		elapsed := time.Since(start)
		prov.DurationsMs[string(stage)] += float64(elapsed.Microseconds()) / 1000
		metrics.StageDuration.WithLabelValues(o.cfg.Deployment, string(stage)).Observe(elapsed.Seconds())

		if err == nil {
			return nil
		}
		err = classify(stage, err)
		if !isTimeout(err) || attempt >= o.cfg.Retry.Attempts || ctx.Err() != nil {
			return domain.NewStageError(stage, err)
		}

		metrics.StageRetriesTotal.WithLabelValues(o.cfg.Deployment, string(stage)).Inc()
		logger.FromContextOr(ctx, o.logger).Debug("Retrying stage after timeout",
			zap.String("stage", string(stage)), zap.Int("attempt", attempt+1))
		if o.cfg.Retry.Backoff > 0 {
			select {
			case <-time.After(o.cfg.Retry.Backoff):
			case <-ctx.Done():
				return domain.NewStageError(stage, classify(stage, ctx.Err()))
			}
		}
	}
}

// classify maps raw deadline errors to the stage's timeout kind.
func classify(stage domain.Stage, err error) error {
	if isTimeout(err) || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if stage == domain.StageRerank {
		return fmt.Errorf("%w: %w", domain.ErrRerankTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrRetrievalTimeout, err)
}

func isTimeout(err error) bool {
	return errors.Is(err, domain.ErrRetrievalTimeout) || errors.Is(err, domain.ErrRerankTimeout)
}

func (o *Orchestrator) cacheKey(snap *index.Snapshot, q request.Query, s request.Sizes) string {
	return snap.ID() + "|" + q.Key() + "|" + strconv.Itoa(s.Pool) + "|" + strconv.Itoa(s.Results)
}

func (o *Orchestrator) cacheGet(key string) (Response, bool) {
	if o.cache == nil {
		return Response{}, false
	}
	resp, ok := o.cache.Get(key)
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.RecommendCacheTotal.WithLabelValues(o.cfg.Deployment, result).Inc()
	return resp, ok
}

func (o *Orchestrator) cachePut(key string, resp Response) {
	if o.cache == nil {
		return
	}
	resp.Results = slices.Clone(resp.Results)
	resp.Provenance.Backends = slices.Clone(resp.Provenance.Backends)
	resp.Provenance.Trace = slices.Clone(resp.Provenance.Trace)
	o.cache.Add(key, resp)
}

// observe emits the canonical log line and request metrics of one run.
func (o *Orchestrator) observe(ctx context.Context, q request.Query, prov *Provenance, d time.Duration, err error) {
	log := logger.FromContextOr(ctx, o.logger)
	fields := []zap.Field{
		zap.String("deployment", o.cfg.Deployment),
		zap.String("query", q.Key()),
		zap.String("snapshot_id", prov.SnapshotID),
		zap.Strings("backends", prov.Backends),
		zap.Int("candidates", prov.Candidates),
		zap.Int("results", prov.Results),
		zap.Int("failed_scores", prov.FailedScores),
		zap.Bool("cached", prov.Cached),
		zap.Duration("duration", d),
		zap.Any("durations_ms", prov.DurationsMs),
	}

	if err != nil {
		kind := domain.KindOf(err)
		metrics.RecommendRequestsTotal.WithLabelValues(o.cfg.Deployment, "error", kind).Inc()
		fields = append(fields,
			zap.String("kind", kind),
			zap.String("stage", string(domain.StageOf(err))),
			zap.Error(err),
		)
		if kind == "invalid_input" || kind == "configuration" {
			log.Info("recommend_failed", fields...)
		} else {
			log.Warn("recommend_failed", fields...)
		}
		return
	}
	metrics.RecommendRequestsTotal.WithLabelValues(o.cfg.Deployment, "ok", "").Inc()
	log.Info("recommend_completed", fields...)
}
