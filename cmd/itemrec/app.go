package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/config"
	"github.com/kailas-cloud/itemrec/internal/db"
	dbRedis "github.com/kailas-cloud/itemrec/internal/db/redis"
	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/item"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/fusion"
	"github.com/kailas-cloud/itemrec/internal/encoder/hashing"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/ingest"
	logpkg "github.com/kailas-cloud/itemrec/internal/logger"
	"github.com/kailas-cloud/itemrec/internal/metrics"
	"github.com/kailas-cloud/itemrec/internal/repository/artifact"
	"github.com/kailas-cloud/itemrec/internal/repository/embcache"
	itemrepo "github.com/kailas-cloud/itemrec/internal/repository/item"
	recsrepo "github.com/kailas-cloud/itemrec/internal/repository/recs"
	searchrepo "github.com/kailas-cloud/itemrec/internal/repository/search"
	"github.com/kailas-cloud/itemrec/internal/transport/crossencoder"
	openaiEmb "github.com/kailas-cloud/itemrec/internal/transport/openai"
	cataloguc "github.com/kailas-cloud/itemrec/internal/usecase/catalog"
	embeddinguc "github.com/kailas-cloud/itemrec/internal/usecase/embedding"
	enrichuc "github.com/kailas-cloud/itemrec/internal/usecase/enrich"
	healthuc "github.com/kailas-cloud/itemrec/internal/usecase/health"
	"github.com/kailas-cloud/itemrec/internal/usecase/indexer"
	"github.com/kailas-cloud/itemrec/internal/usecase/pipeline"
	"github.com/kailas-cloud/itemrec/internal/usecase/precompute"
	"github.com/kailas-cloud/itemrec/internal/usecase/rerank"
	"github.com/kailas-cloud/itemrec/internal/usecase/retrieval"
)

// app is the composition root shared by all commands.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
	store  db.Store // nil when database.addrs is empty

	vectorizers map[string]*vectorizer
	deployments map[string]*deployment
	names       []string
	registry    *pipeline.Registry
	lists       *precompute.Service // nil without a store
}

// vectorizer is one configured encoder with its document and query chains.
type vectorizer struct {
	name   string
	doc    *embeddinguc.Service
	query  *embeddinguc.Service
	health domain.HealthChecker
}

// deployment is one fully wired recommender.
type deployment struct {
	name     string
	cfg      config.DeploymentConfig
	catalog  *cataloguc.Service
	indexer  *indexer.Service
	pipeline *pipeline.Orchestrator
}

// encoderBase is what every base encoder provides.
type encoderBase interface {
	domain.Embedder
	domain.Identified
	domain.HealthChecker
}

func newApp(ctx context.Context, opts options) (*app, error) {
	env := opts.env
	if env == "" {
		env = config.GetEnv()
	}

	var (
		cfg config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{
		env:         env,
		cfg:         cfg,
		logger:      logger,
		vectorizers: make(map[string]*vectorizer),
		deployments: make(map[string]*deployment),
		registry:    pipeline.NewRegistry(),
	}

	if cfg.Database.Enabled() {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			DB:       cfg.Database.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("create database store: %w", err)
		}
		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			store.Close()
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		logger.Info("Connected to database", zap.Strings("db_addrs", cfg.Database.Addrs))
		a.store = store
		a.lists = precompute.New(recsrepo.New(store, cfg.Storage.KeyPrefix), precompute.DefaultConcurrency, logger)
	}

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	for _, name := range slices.Sorted(maps.Keys(cfg.Deployments)) {
		dep, err := a.buildDeployment(name, cfg.Deployments[name])
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("deployment %s: %w", name, err)
		}
		a.deployments[name] = dep
		a.names = append(a.names, name)
	}
	return a, nil
}

// Close releases the store and flushes the logger.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}

// deployment returns a configured deployment or ErrUnknownDeployment.
func (a *app) deployment(name string) (*deployment, error) {
	dep, ok := a.deployments[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownDeployment)
	}
	return dep, nil
}

// selected resolves command arguments to deployments; no arguments means all of them.
func (a *app) selected(args []string) ([]*deployment, error) {
	if len(args) == 0 {
		args = a.names
	}
	out := make([]*deployment, 0, len(args))
	for _, name := range args {
		dep, err := a.deployment(name)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}

func (a *app) buildDeployment(name string, dc config.DeploymentConfig) (*deployment, error) {
	prefix := a.cfg.Storage.KeyPrefix

	backends, err := backend.Parse(dc.Retrieval.Backends)
	if err != nil {
		return nil, err
	}

	var repo cataloguc.Repository = itemrepo.NewMemory()
	if a.store != nil {
		repo = itemrepo.New(a.store, prefix)
	}
	catalog := cataloguc.New(repo, name, dc.Domain)

	// Pass nil interfaces (not typed nil pointers!) when there is no dense backend.
	var (
		docEnc    indexer.Encoder
		queryEnc  pipeline.Encoder
		batchSize int
	)
	if slices.Contains(backends, backend.Dense) {
		vec, err := a.vectorizer(dc.Vectorizer)
		if err != nil {
			return nil, err
		}
		docEnc, queryEnc = vec.doc, vec.query
		batchSize = a.cfg.Embedding.Vectorizers[dc.Vectorizer].BatchSize
	}

	var artifacts indexer.ArtifactStore
	switch {
	case dc.Artifact.Key != "" && a.store != nil:
		artifacts = artifact.NewKV(a.store, prefix, dc.Artifact.Key)
	case dc.Artifact.Path != "":
		artifacts = artifact.NewFile(dc.Artifact.Path)
	}

	holder := &index.Holder{}
	idx, err := indexer.New(indexer.Config{
		Deployment:   name,
		Backends:     backends,
		Metric:       index.Metric(dc.Retrieval.Metric),
		BM25:         index.BM25Params{K1: dc.Retrieval.BM25K1, B: dc.Retrieval.BM25B},
		BatchSize:    batchSize,
		MaxSkipRatio: dc.MaxSkipRatio,
	}, holder, catalog, docEnc, artifacts, a.logger)
	if err != nil {
		return nil, err
	}

	var genOpts []retrieval.Option
	if dc.Retrieval.Engine == config.EngineRedisSearch && a.store != nil {
		ft := searchrepo.New(a.store, prefix, a.logger)
		idx.MirrorTo(ft)
		genOpts = append(genOpts, retrieval.WithSearchIndex(ft, name))
	}
	gen, err := retrieval.NewGenerator(backends, fusion.Params{
		Rule:  fusion.Rule(dc.Retrieval.Fusion),
		RRFK:  dc.Retrieval.RRFK,
		Alpha: dc.Retrieval.Alpha,
	}, a.logger, genOpts...)
	if err != nil {
		return nil, err
	}

	scorer, err := a.buildScorer(dc.Rerank, dc.Vectorizer)
	if err != nil {
		return nil, err
	}
	reranker, err := rerank.NewService(scorer, rerank.Config{
		MaxPool:          dc.MaxPool,
		FailureThreshold: dc.Rerank.FailureThreshold,
		Concurrency:      dc.Rerank.Concurrency,
		BatchSize:        dc.Rerank.BatchSize,
		CoarseWeight:     dc.Rerank.CoarseWeight,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	// Without a persistent metadata store the snapshot is the source of item documents.
	var pcat pipeline.Catalog
	if a.store != nil {
		pcat = catalog
	}
	orch, err := pipeline.New(pipeline.Config{
		Deployment: name,
		MaxPool:    dc.MaxPool,
		Fusion:     gen.Fusion(),
		Timeouts: pipeline.Timeouts{
			Embed:    dc.Timeouts.Embed(),
			Retrieve: dc.Timeouts.Retrieve(),
			Rerank:   dc.Timeouts.Rerank(),
		},
		Retry:     pipeline.Retry{Attempts: dc.Retry.Attempts, Backoff: dc.Retry.Backoff()},
		CacheSize: dc.CacheSize,
	}, holder, pcat, queryEnc, gen, reranker, a.logger)
	if err != nil {
		return nil, err
	}
	idx.OnSwap(func(*index.Snapshot) { orch.PurgeCache() })

	if err := a.registry.Register(orch); err != nil {
		return nil, err
	}

	a.logger.Info("Deployment wired",
		zap.String("deployment", name),
		zap.String("engine", dc.Retrieval.Engine),
		zap.Strings("backends", dc.Retrieval.Backends),
		zap.String("fusion", dc.Retrieval.Fusion),
		zap.String("scorer", reranker.Scorer()),
	)
	return &deployment{name: name, cfg: dc, catalog: catalog, indexer: idx, pipeline: orch}, nil
}

// vectorizer builds (once) the encoder chains of a configured vectorizer.
func (a *app) vectorizer(name string) (*vectorizer, error) {
	if v, ok := a.vectorizers[name]; ok {
		return v, nil
	}
	vc, ok := a.cfg.Embedding.Vectorizers[name]
	if !ok {
		return nil, fmt.Errorf("vectorizer %q is not defined: %w", name, domain.ErrConfiguration)
	}

	base, err := a.buildBase(vc)
	if err != nil {
		return nil, err
	}
	info := base.Info()

	doc, err := embeddinguc.NewService(a.buildEmbedder(base, vc, vc.DocumentInstruction), info, vc.MaxInputRunes, a.logger)
	if err != nil {
		return nil, err
	}
	query, err := embeddinguc.NewService(a.buildEmbedder(base, vc, vc.QueryInstruction), info, vc.MaxInputRunes, a.logger)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Encoder resolved",
		zap.String("vectorizer", name),
		zap.String("provider", vc.Provider),
		zap.String("encoder", info.String()),
	)
	v := &vectorizer{name: name, doc: doc, query: query, health: base}
	a.vectorizers[name] = v
	return v, nil
}

func (a *app) buildBase(vc config.VectorizerConfig) (encoderBase, error) {
	if vc.Provider == config.ProviderHashing {
		enc, err := hashing.New(vc.Dimensions, vc.Version)
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
	prov := a.cfg.Embedding.Providers[vc.Provider]
	return openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     prov.APIKey,
		BaseURL:    prov.BaseURL,
		Model:      vc.Model,
		Version:    vc.Version,
		Dimensions: vc.Dimensions,
		Provider:   vc.Provider,
		Timeout:    time.Duration(prov.TimeoutSec) * time.Second,
		Logger:     a.logger,
	}), nil
}

// buildEmbedder assembles the decorator chain: base -> Cached -> Instrumented -> Instruction
func (a *app) buildEmbedder(base encoderBase, vc config.VectorizerConfig, instruction string) domain.Embedder {
	var embedder domain.Embedder = base
	if vc.Cache && a.store != nil {
		embedder = embcache.New(base, a.store, embcache.Options{
			Prefix: a.cfg.Storage.KeyPrefix + "emb_cache:",
			TTL:    time.Duration(a.cfg.Storage.CacheTTLHours) * time.Hour,
		}, metrics.EmbeddingCacheTotal, a.logger)
	}

	model := vc.Model
	if model == "" {
		model = base.Info().Name
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, vc.Provider, model, vc.BatchSize, a.logger)

	// Instruction prefix (outermost: cache key includes instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

func (a *app) buildScorer(rc config.RerankConfig, defaultVectorizer string) (rerank.Scorer, error) {
	switch rc.Scorer {
	case "overlap":
		return rerank.NewOverlap(), nil
	case "embedding":
		name := rc.Vectorizer
		if name == "" {
			name = defaultVectorizer
		}
		v, err := a.vectorizer(name)
		if err != nil {
			return nil, err
		}
		return rerank.NewEmbedding(v.doc), nil
	case "cross_encoder":
		ce := rc.CrossEncoder
		return crossencoder.NewClient(crossencoder.Config{
			BaseURL:     ce.BaseURL,
			APIKey:      ce.APIKey,
			Model:       ce.Model,
			Timeout:     time.Duration(ce.TimeoutSec) * time.Second,
			MaxFailures: uint32(ce.MaxFailures), //nolint:gosec // validated positive in config
			Logger:      a.logger,
		})
	case "blend":
		components := make([]rerank.Component, 0, len(rc.Blend))
		for _, b := range rc.Blend {
			sub := rc
			sub.Scorer = b.Scorer
			s, err := a.buildScorer(sub, defaultVectorizer)
			if err != nil {
				return nil, fmt.Errorf("blend %s: %w", b.Scorer, err)
			}
			components = append(components, rerank.Component{Scorer: s, Weight: b.Weight})
		}
		return rerank.NewBlend(components...)
	}
	return nil, fmt.Errorf("unknown scorer %q: %w", rc.Scorer, domain.ErrConfiguration)
}

// ingest loads the configured corpus into the deployment catalog. With generate
// set, missing abstracts are written by the language model first.
func (a *app) ingest(ctx context.Context, dep *deployment, generate bool) error {
	if dep.cfg.Corpus.Path == "" {
		return nil
	}
	start := time.Now()
	corpus, err := ingest.Load(ctx, dep.cfg.Corpus.Format, dep.cfg.Corpus.Path, dep.cfg.Domain)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	if dep.cfg.Enrich.Enabled() {
		if corpus.Items, err = a.enrich(ctx, dep, corpus.Items, generate); err != nil {
			return fmt.Errorf("enrich corpus: %w", err)
		}
	}
	n, err := dep.catalog.Ingest(ctx, corpus.Items...)
	if err != nil {
		return fmt.Errorf("ingest corpus: %w", err)
	}
	a.logger.Info("Corpus ingested",
		zap.String("deployment", dep.name),
		zap.String("format", dep.cfg.Corpus.Format),
		zap.Int("items", n),
		zap.Int("skipped", corpus.Skipped),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// enrich merges stored abstracts into items, generating the missing ones when asked to.
func (a *app) enrich(ctx context.Context, dep *deployment, items []item.Item, generate bool) ([]item.Item, error) {
	ec := dep.cfg.Enrich
	known, err := enrichuc.ReadFile(ec.Output)
	if err != nil {
		return nil, err
	}
	if !generate || ec.Model == "" {
		return enrichuc.Apply(items, known)
	}

	prov := a.cfg.Embedding.Providers[ec.Provider]
	llm := openaiEmb.NewCompleter(&openaiEmb.CompleterConfig{
		APIKey:      prov.APIKey,
		BaseURL:     prov.BaseURL,
		Model:       ec.Model,
		MaxTokens:   ec.MaxTokens,
		Temperature: float32(ec.Temperature),
		Timeout:     time.Duration(prov.TimeoutSec) * time.Second,
		Logger:      a.logger,
	})
	rep, err := enrichuc.New(llm, dep.name, ec.Concurrency, a.logger).Enrich(ctx, items, known)
	if err != nil {
		return nil, err
	}
	if err := enrichuc.WriteFile(ec.Output, rep.Descriptions); err != nil {
		return nil, err
	}
	return enrichuc.Apply(items, rep.Descriptions)
}

// warm ingests the corpus and brings a snapshot online, restoring the artifact when possible.
func (a *app) warm(ctx context.Context, dep *deployment) error {
	if err := a.ingest(ctx, dep, false); err != nil {
		return err
	}
	if _, err := dep.indexer.RestoreOrRebuild(ctx); err != nil {
		return err
	}
	return nil
}

// fatalWarmup reports errors that must stop the service: a corrupt or
// mismatched artifact would otherwise be silently rebuilt or skipped.
func fatalWarmup(err error) bool {
	return errors.Is(err, domain.ErrCorruptArtifact) || errors.Is(err, domain.ErrDimensionMismatch)
}

func (a *app) healthService() *healthuc.Service {
	embedders := make(map[string]healthuc.EmbeddingChecker, len(a.vectorizers))
	for name, v := range a.vectorizers {
		embedders[name] = v.health
	}
	// Pass nil interface (not typed nil pointer!) if the store is not configured.
	var pinger healthuc.DBPinger
	if a.store != nil {
		pinger = a.store
	}
	return healthuc.New(pinger, embedders, a.registry)
}
