// Package indexer builds index snapshots and publishes them to readers.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/backend"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/metrics"
)

const (
	// DefaultBatchSize is the number of documents embedded per encoder call.
	DefaultBatchSize = 64
	// DefaultMaxSkipRatio is the share of corpus items a build may leave out.
	DefaultMaxSkipRatio = 0.5
)

// Config describes which indexes a deployment builds.
type Config struct {
	Deployment string
	Backends   []backend.Backend
	Metric     index.Metric
	BM25       index.BM25Params
	BatchSize  int
	// MaxSkipRatio bounds the share of items skipped for having no usable text.
	// Zero means DefaultMaxSkipRatio; 1 never fails.
	MaxSkipRatio float64
}

// Service owns the snapshot lifecycle of one deployment.
// Builds are serialized by the holder; readers never see a partial snapshot.
type Service struct {
	cfg     Config
	holder  *index.Holder
	source  Source
	enc     Encoder
	store   ArtifactStore
	mirror  Mirror
	onSwap  []func(*index.Snapshot)
	logger  *zap.Logger
	dense   bool
	lexical bool
}

// New creates an indexer. enc may be nil only when the dense backend is off;
// store may be nil when snapshots are not persisted.
func New(cfg Config, holder *index.Holder, source Source, enc Encoder, store ArtifactStore, logger *zap.Logger) (*Service, error) {
	if holder == nil {
		return nil, fmt.Errorf("indexer %s: holder is required: %w", cfg.Deployment, domain.ErrConfiguration)
	}
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("indexer %s: no retrieval backend: %w", cfg.Deployment, domain.ErrIndexUnavailable)
	}
	s := &Service{cfg: cfg, holder: holder, source: source, enc: enc, store: store, logger: logger}
	for _, b := range cfg.Backends {
		switch b {
		case backend.Dense:
			s.dense = true
		case backend.Lexical:
			s.lexical = true
		default:
			return nil, fmt.Errorf("indexer %s: unknown backend %q: %w", cfg.Deployment, b, domain.ErrConfiguration)
		}
	}
	if s.dense && enc == nil {
		return nil, fmt.Errorf("indexer %s: dense backend needs an encoder: %w", cfg.Deployment, domain.ErrEncoderUnavailable)
	}
	if s.cfg.Metric == "" {
		s.cfg.Metric = index.Cosine
	}
	if s.cfg.BM25 == (index.BM25Params{}) {
		s.cfg.BM25 = index.DefaultBM25()
	}
	if s.cfg.BatchSize <= 0 {
		s.cfg.BatchSize = DefaultBatchSize
	}
	if s.cfg.MaxSkipRatio <= 0 {
		s.cfg.MaxSkipRatio = DefaultMaxSkipRatio
	}
	return s, nil
}

// OnSwap registers a callback invoked after every published snapshot.
// Not safe for use concurrently with Rebuild or Restore.
func (s *Service) OnSwap(fn func(*index.Snapshot)) {
	s.onSwap = append(s.onSwap, fn)
}

// MirrorTo makes every rebuilt or restored snapshot go to m before it is
// published; a failed mirror keeps the live snapshot serving.
// Not safe for use concurrently with Rebuild or Restore.
func (s *Service) MirrorTo(m Mirror) {
	s.mirror = m
}

// Holder returns the snapshot holder readers load from.
func (s *Service) Holder() *index.Holder { return s.holder }

// Build embeds the current corpus and returns a new snapshot without publishing it.
// Items without usable text are skipped and counted in the manifest; the build
// fails only when the skipped share exceeds MaxSkipRatio.
func (s *Service) Build(ctx context.Context) (*index.Snapshot, error) {
	items, err := s.source.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("list corpus: %w", err)
	}

	ids := make([]string, 0, len(items))
	texts := make([]string, 0, len(items))
	docs := make(map[string]string, len(items))
	skipped := 0
	for _, it := range items {
		doc := it.Document()
		if doc == "" {
			s.logger.Warn("item skipped: no text", zap.String("deployment", s.cfg.Deployment), zap.String("item_id", it.ID()))
			skipped++
			continue
		}
		ids = append(ids, it.ID())
		texts = append(texts, doc)
		docs[it.ID()] = doc
	}

	m := index.Manifest{Deployment: s.cfg.Deployment}
	var entries []index.DenseEntry
	if s.dense && len(ids) > 0 {
		m.Encoder = s.enc.Info()
		var rejected map[string]bool
		entries, rejected, err = s.embed(ctx, ids, texts)
		if err != nil {
			return nil, err
		}
		if len(rejected) > 0 {
			ids, texts = dropRejected(ids, texts, rejected)
			for id := range rejected {
				delete(docs, id)
			}
			skipped += len(rejected)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("deployment %s: empty corpus: %w", s.cfg.Deployment, domain.ErrIndexUnavailable)
	}
	if skipped > 0 {
		ratio := float64(skipped) / float64(len(items))
		s.logger.Warn("corpus items skipped",
			zap.String("deployment", s.cfg.Deployment),
			zap.Int("skipped", skipped),
			zap.Int("total", len(items)),
		)
		if ratio > s.cfg.MaxSkipRatio {
			return nil, fmt.Errorf("deployment %s: %d of %d items have no usable text (max ratio %g): %w",
				s.cfg.Deployment, skipped, len(items), s.cfg.MaxSkipRatio, domain.ErrIndexUnavailable)
		}
	}
	m.Skipped = skipped

	var dense *index.Dense
	if s.dense {
		if dense, err = index.BuildDense(m.Encoder, s.cfg.Metric, entries); err != nil {
			return nil, fmt.Errorf("build dense index: %w", err)
		}
	}

	var lexical *index.Lexical
	if s.lexical {
		ldocs := make([]index.LexicalDoc, len(ids))
		for i, id := range ids {
			ldocs[i] = index.LexicalDoc{ID: id, Text: texts[i]}
		}
		if lexical, err = index.BuildLexical(ldocs, s.cfg.BM25); err != nil {
			return nil, fmt.Errorf("build lexical index: %w", err)
		}
	}

	return index.NewSnapshot(m, dense, lexical, docs)
}

// embed encodes the corpus batch by batch. A batch rejected as invalid input is
// retried item by item and the items the encoder still rejects are returned.
func (s *Service) embed(ctx context.Context, ids, texts []string) ([]index.DenseEntry, map[string]bool, error) {
	entries := make([]index.DenseEntry, 0, len(ids))
	var rejected map[string]bool
	for start := 0; start < len(texts); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(texts))
		vecs, err := s.enc.EmbedBatch(ctx, texts[start:end])
		if errors.Is(err, domain.ErrInvalidInput) {
			vecs, err = s.embedEach(ctx, ids[start:end], texts[start:end])
		}
		if err != nil {
			return nil, nil, fmt.Errorf("embed corpus [%d:%d]: %w", start, end, err)
		}
		for i, v := range vecs {
			if v == nil {
				if rejected == nil {
					rejected = make(map[string]bool)
				}
				rejected[ids[start+i]] = true
				continue
			}
			entries = append(entries, index.DenseEntry{ID: ids[start+i], Vector: v})
		}
		s.logger.Debug("corpus batch embedded",
			zap.String("deployment", s.cfg.Deployment),
			zap.Int("done", end),
			zap.Int("total", len(texts)),
		)
	}
	return entries, rejected, nil
}

// embedEach leaves a nil vector for every text the encoder rejects as invalid input.
func (s *Service) embedEach(ctx context.Context, ids, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vecs, err := s.enc.EmbedBatch(ctx, []string{text})
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			s.logger.Warn("item skipped: encoder rejected text",
				zap.String("deployment", s.cfg.Deployment),
				zap.String("item_id", ids[i]),
				zap.Error(err),
			)
		case err != nil:
			return nil, err
		default:
			out[i] = vecs[0]
		}
	}
	return out, nil
}

func dropRejected(ids, texts []string, rejected map[string]bool) ([]string, []string) {
	keptIDs, keptTexts := ids[:0], texts[:0]
	for i, id := range ids {
		if !rejected[id] {
			keptIDs = append(keptIDs, id)
			keptTexts = append(keptTexts, texts[i])
		}
	}
	return keptIDs, keptTexts
}

// Rebuild builds a snapshot from the corpus, publishes it and persists the artifact.
// On failure the live snapshot keeps serving.
func (s *Service) Rebuild(ctx context.Context) (*index.Snapshot, error) {
	start := time.Now()
	next, err := s.holder.Rebuild(func(*index.Snapshot) (*index.Snapshot, error) {
		snap, err := s.Build(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.mirrorSnapshot(ctx, snap); err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		s.logger.Error("snapshot rebuild failed",
			zap.String("deployment", s.cfg.Deployment),
			zap.String("kind", domain.KindOf(err)),
			zap.Error(err),
		)
		return nil, err
	}
	s.published(next, "rebuild", time.Since(start))

	if s.store != nil {
		if err := s.store.Save(ctx, next); err != nil {
			// снапшот уже обслуживает запросы, падает только персист
			return next, fmt.Errorf("persist snapshot %s to %s: %w", next.ID(), s.store.Location(), err)
		}
	}
	return next, nil
}

// Restore loads the persisted artifact and publishes it.
// Corrupt or mismatched artifacts fail fast and leave the holder untouched.
func (s *Service) Restore(ctx context.Context) (*index.Snapshot, error) {
	if s.store == nil {
		return nil, fmt.Errorf("deployment %s: no artifact store: %w", s.cfg.Deployment, domain.ErrIndexUnavailable)
	}
	var expect *domain.EncoderInfo
	if s.enc != nil {
		info := s.enc.Info()
		expect = &info
	}
	start := time.Now()
	snap, err := s.store.Load(ctx, expect)
	if err != nil {
		return nil, err
	}
	if snap.Manifest().Deployment != "" && snap.Manifest().Deployment != s.cfg.Deployment {
		return nil, fmt.Errorf("artifact %s belongs to deployment %s: %w",
			s.store.Location(), snap.Manifest().Deployment, domain.ErrCorruptArtifact)
	}
	if s.dense && snap.Dense() == nil {
		return nil, fmt.Errorf("artifact %s has no dense index: %w", s.store.Location(), domain.ErrIndexUnavailable)
	}
	if s.lexical && snap.Lexical() == nil {
		return nil, fmt.Errorf("artifact %s has no lexical index: %w", s.store.Location(), domain.ErrIndexUnavailable)
	}
	if err := s.mirrorSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	s.holder.Store(snap)
	s.published(snap, "restore", time.Since(start))
	return snap, nil
}

// RestoreOrRebuild restores the artifact when one exists and rebuilds otherwise.
func (s *Service) RestoreOrRebuild(ctx context.Context) (*index.Snapshot, error) {
	if s.store != nil {
		snap, err := s.Restore(ctx)
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, domain.ErrCorruptArtifact) || errors.Is(err, domain.ErrDimensionMismatch) {
			return nil, err
		}
		s.logger.Info("no usable artifact, rebuilding",
			zap.String("deployment", s.cfg.Deployment),
			zap.String("location", s.store.Location()),
			zap.Error(err),
		)
	}
	return s.Rebuild(ctx)
}

func (s *Service) mirrorSnapshot(ctx context.Context, snap *index.Snapshot) error {
	if s.mirror == nil {
		return nil
	}
	start := time.Now()
	if err := s.mirror.Publish(ctx, s.cfg.Deployment, snap); err != nil {
		return fmt.Errorf("mirror snapshot %s: %w", snap.ID(), err)
	}
	s.logger.Debug("snapshot mirrored",
		zap.String("deployment", s.cfg.Deployment),
		zap.String("snapshot_id", snap.ID()),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) published(snap *index.Snapshot, how string, took time.Duration) {
	metrics.SnapshotSwapsTotal.WithLabelValues(s.cfg.Deployment).Inc()
	metrics.SnapshotItems.WithLabelValues(s.cfg.Deployment).Set(float64(snap.Len()))
	metrics.SnapshotSkippedItems.WithLabelValues(s.cfg.Deployment).Set(float64(snap.Manifest().Skipped))
	for _, fn := range s.onSwap {
		fn(snap)
	}
	s.logger.Info("snapshot published",
		zap.String("deployment", s.cfg.Deployment),
		zap.String("snapshot_id", snap.ID()),
		zap.String("source", how),
		zap.Int("items", snap.Len()),
		zap.Int("skipped", snap.Manifest().Skipped),
		zap.String("encoder", snap.Manifest().Encoder.String()),
		zap.Duration("took", took),
	)
}
