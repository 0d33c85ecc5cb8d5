package search

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/db"
	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	kv      map[string][]byte
	written [][]db.HashSetItem
	created []*db.IndexDefinition
	aliases [][2]string
	dropped []string

	createErr error
	aliasErr  error
	dropErr   error

	searchKNNFn  func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchBM25Fn func(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

func (m *mockStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	m.written = append(m.written, append([]db.HashSetItem(nil), items...))
	return nil
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	if m.kv == nil {
		m.kv = make(map[string][]byte)
	}
	m.kv[key] = value
	return nil
}

func (m *mockStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	m.created = append(m.created, def)
	return m.createErr
}

func (m *mockStore) DropIndex(_ context.Context, name string, deleteDocs bool) error {
	if !deleteDocs {
		name += " (keep docs)"
	}
	m.dropped = append(m.dropped, name)
	return m.dropErr
}

func (m *mockStore) UpdateAlias(_ context.Context, alias, index string) error {
	if m.aliasErr != nil {
		return m.aliasErr
	}
	m.aliases = append(m.aliases, [2]string{alias, index})
	return nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	if m.searchBM25Fn != nil {
		return m.searchBM25Fn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, "itemrec:", zap.NewNop()), ms
}

var testInfo = domain.EncoderInfo{Name: "test", Version: "1", Dimensions: 3}

// testSnapshot indexes three items with both backends.
func testSnapshot(t *testing.T, id string) *index.Snapshot {
	t.Helper()
	docs := map[string]string{
		"a": "graph neural networks",
		"b": "graph databases",
		"c": "medieval poetry",
	}
	vecs := map[string][]float32{"a": {1, 0, 0}, "b": {1, 1, 0}, "c": {0, 0, 1}}

	var entries []index.DenseEntry
	var ldocs []index.LexicalDoc
	for _, itemID := range []string{"a", "b", "c"} {
		entries = append(entries, index.DenseEntry{ID: itemID, Vector: vecs[itemID]})
		ldocs = append(ldocs, index.LexicalDoc{ID: itemID, Text: docs[itemID]})
	}
	d, err := index.BuildDense(testInfo, index.Cosine, entries)
	if err != nil {
		t.Fatal(err)
	}
	l, err := index.BuildLexical(ldocs, index.DefaultBM25())
	if err != nil {
		t.Fatal(err)
	}
	snap, err := index.NewSnapshot(index.Manifest{ID: id, Deployment: "papers", Encoder: testInfo}, d, l, docs)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}
