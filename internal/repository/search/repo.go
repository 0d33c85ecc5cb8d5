// Package search mirrors index snapshots into Redis FT indexes and queries them.
//
// Every snapshot gets its own index over its own hashes:
//
//	<prefix>ftidx:<snapshot_id>              FT index
//	<prefix>ftdoc:<snapshot_id>:<item_id>    hash {id, content, vector}
//	<prefix>ftidx:<deployment>               alias of the live index (queried)
//	<prefix>ftlive:<deployment>              name of the live index
//
// Publishing moves the alias with FT.ALIASUPDATE and drops the previous index
// together with its hashes, so readers never observe a half-written index.
package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/db"
	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/index"
	"github.com/kailas-cloud/itemrec/internal/textproc"
)

// Hash fields of a mirrored document.
const (
	FieldID      = "id"
	FieldContent = "content"
	FieldVector  = "vector"
)

// DefaultBatchSize is the number of hashes written per pipelined round-trip.
const DefaultBatchSize = 500

// store is the consumer interface for FT index operations (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string, deleteDocs bool) error
	UpdateAlias(ctx context.Context, alias, index string) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// Repo implements retrieval.SearchIndex and indexer.Mirror on top of Redis search.
type Repo struct {
	store     store
	prefix    string
	batchSize int
	logger    *zap.Logger
}

// New creates a search repository.
func New(s store, keyPrefix string, logger *zap.Logger) *Repo {
	return &Repo{store: s, prefix: keyPrefix, batchSize: DefaultBatchSize, logger: logger}
}

// IndexName returns the FT index name of a snapshot.
func (r *Repo) IndexName(snapshotID string) string { return r.prefix + "ftidx:" + snapshotID }

// Alias returns the alias readers of a deployment query.
func (r *Repo) Alias(deployment string) string { return r.prefix + "ftidx:" + deployment }

func (r *Repo) docPrefix(snapshotID string) string { return r.prefix + "ftdoc:" + snapshotID + ":" }

func (r *Repo) liveKey(deployment string) string { return r.prefix + "ftlive:" + deployment }

// Publish writes the snapshot documents, indexes them and moves the deployment
// alias to the new index. The previously live index is dropped afterwards;
// failing to drop it is logged and does not fail the publish.
func (r *Repo) Publish(ctx context.Context, deployment string, snap *index.Snapshot) error {
	name := r.IndexName(snap.ID())
	def, err := r.definition(name, snap)
	if err != nil {
		return fmt.Errorf("index definition %s: %w", name, err)
	}
	if err := r.writeDocs(ctx, snap); err != nil {
		return err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", name, err)
	}

	prev, err := r.store.Get(ctx, r.liveKey(deployment))
	if err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("read live index of %s: %w", deployment, err)
	}
	if err := r.store.UpdateAlias(ctx, r.Alias(deployment), name); err != nil {
		return fmt.Errorf("move alias %s to %s: %w", r.Alias(deployment), name, err)
	}
	if err := r.store.Set(ctx, r.liveKey(deployment), []byte(name)); err != nil {
		return fmt.Errorf("record live index of %s: %w", deployment, err)
	}

	if old := string(prev); old != "" && old != name {
		if err := r.store.DropIndex(ctx, old, true); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
			r.logger.Warn("Failed to drop replaced search index",
				zap.String("deployment", deployment),
				zap.String("index", old),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (r *Repo) definition(name string, snap *index.Snapshot) (*db.IndexDefinition, error) {
	b := db.NewIndex(name).Prefix(r.docPrefix(snap.ID())).Tag(FieldID)
	if snap.Lexical() != nil {
		b.Text(FieldContent)
	}
	if d := snap.Dense(); d != nil {
		distance := db.DistanceCosine
		if d.Metric() == index.InnerProduct {
			distance = db.DistanceIP
		}
		b.Vector(FieldVector, d.Info().Dimensions, db.VectorFlat, distance)
	}
	return b.Build()
}

func (r *Repo) writeDocs(ctx context.Context, snap *index.Snapshot) error {
	prefix := r.docPrefix(snap.ID())
	dense, lexical := snap.Dense(), snap.Lexical()

	batch := make([]db.HashSetItem, 0, r.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.store.HSetMulti(ctx, batch); err != nil {
			return fmt.Errorf("write search documents of %s: %w", snap.ID(), err)
		}
		batch = batch[:0]
		return nil
	}

	for _, id := range snap.IDs() {
		fields := map[string]string{FieldID: id}
		if lexical != nil {
			doc, _ := snap.Document(id)
			fields[FieldContent] = doc
		}
		if dense != nil {
			if vec, ok := dense.Vector(id); ok {
				fields[FieldVector] = db.EncodeVector(vec)
			}
		}
		batch = append(batch, db.HashSetItem{Key: prefix + id, Fields: fields})
		if len(batch) == r.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// SearchKNN returns the k nearest items of the live index, exclude left out.
// Scores are similarities: 1 - distance for both cosine and inner product.
func (r *Repo) SearchKNN(ctx context.Context, deployment string, vec []float32, k int, exclude string) ([]index.Hit, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.Alias(deployment),
		Field:        FieldVector,
		Vector:       vec,
		K:            fetchSize(k, exclude),
		ReturnFields: []string{FieldID},
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", deployment, unavailable(err))
	}
	hits := toHits(res, exclude, func(distance float64) float64 { return 1 - distance })
	return trim(hits, k), nil
}

// SearchBM25 returns the k best BM25 matches of the live index for text.
// Text without indexable terms matches nothing.
func (r *Repo) SearchBM25(ctx context.Context, deployment, text string, k int, exclude string) ([]index.Hit, error) {
	terms := uniqueTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	res, err := r.store.SearchBM25(ctx, &db.TextQuery{
		IndexName:    r.Alias(deployment),
		Field:        FieldContent,
		Terms:        terms,
		TopK:         fetchSize(k, exclude),
		ReturnFields: []string{FieldID},
	})
	if err != nil {
		return nil, fmt.Errorf("search bm25 %s: %w", deployment, unavailable(err))
	}
	hits := toHits(res, exclude, func(score float64) float64 { return score })
	return trim(hits, k), nil
}

// unavailable keeps context errors as they are and marks store failures as
// an unavailable index.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
}

func fetchSize(k int, exclude string) int {
	if exclude != "" {
		return k + 1
	}
	return k
}

func toHits(res *db.SearchResult, exclude string, score func(float64) float64) []index.Hit {
	if res == nil {
		return nil
	}
	hits := make([]index.Hit, 0, len(res.Entries))
	for _, e := range res.Entries {
		id := e.Fields[FieldID]
		if id == "" || id == exclude {
			continue
		}
		hits = append(hits, index.Hit{ID: id, Score: score(e.Score)})
	}
	index.SortHits(hits)
	return hits
}

func trim(hits []index.Hit, k int) []index.Hit {
	if len(hits) > k {
		return hits[:k]
	}
	return hits
}

func uniqueTerms(text string) []string {
	toks := textproc.Tokenize(text)
	seen := make(map[string]bool, len(toks))
	out := toks[:0]
	for _, t := range toks {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
