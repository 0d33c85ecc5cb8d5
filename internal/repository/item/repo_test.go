package item

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/itemrec/internal/db"
	"github.com/kailas-cloud/itemrec/internal/domain"
	domitem "github.com/kailas-cloud/itemrec/internal/domain/item"
)

func TestUpsert_BuildsHashes(t *testing.T) {
	var got []db.HashSetItem
	ms := &mockStore{hsetMultiFn: func(_ context.Context, items []db.HashSetItem) error {
		got = items
		return nil
	}}
	r := New(ms, "itemrec:")

	it := domitem.Reconstruct("p1", map[string]string{"title": "Graphs", "__domain": "x"}, "mathe")
	if err := r.Upsert(context.Background(), "papers", []domitem.Item{it}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 hash, got %d", len(got))
	}
	if got[0].Key != "itemrec:items:papers:p1" {
		t.Errorf("unexpected key %q", got[0].Key)
	}
	f := got[0].Fields
	if f["__domain"] != "mathe" {
		t.Errorf("expected domain field, got %q", f["__domain"])
	}
	if f["f:title"] != "Graphs" {
		t.Errorf("expected prefixed title, got %q", f["f:title"])
	}
	// пользовательское поле с тем же именем не затирает служебное
	if f["f:__domain"] != "x" {
		t.Errorf("expected prefixed user field, got %q", f["f:__domain"])
	}
}

func TestUpsert_Empty(t *testing.T) {
	ms := &mockStore{hsetMultiFn: func(context.Context, []db.HashSetItem) error {
		t.Error("store must not be called")
		return nil
	}}
	if err := New(ms, "").Upsert(context.Background(), "d", nil); err != nil {
		t.Fatal(err)
	}
}

func TestGet_RoundTrip(t *testing.T) {
	ms := &mockStore{hgetAllFn: func(_ context.Context, key string) (map[string]string, error) {
		if key != "p:items:d:a" {
			t.Errorf("unexpected key %q", key)
		}
		return map[string]string{"__domain": "mathe", "f:title": "Rings", "f:abstract": "ideals"}, nil
	}}
	it, err := New(ms, "p:").Get(context.Background(), "d", "a")
	if err != nil {
		t.Fatal(err)
	}
	if it.ID() != "a" || it.Domain() != "mathe" {
		t.Errorf("unexpected item %s/%s", it.ID(), it.Domain())
	}
	if it.Field("title") != "Rings" || it.Field("abstract") != "ideals" {
		t.Errorf("unexpected fields %v", it.Fields())
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := New(&mockStore{}, "").Get(context.Background(), "d", "missing")
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestGet_StoreError(t *testing.T) {
	boom := errors.New("conn reset")
	ms := &mockStore{hgetAllFn: func(context.Context, string) (map[string]string, error) {
		return nil, boom
	}}
	_, err := New(ms, "").Get(context.Background(), "d", "a")
	if !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
	if errors.Is(err, domain.ErrItemNotFound) {
		t.Error("store failure must not look like a missing item")
	}
}

func TestList_SkipsVanishedAndSorts(t *testing.T) {
	ms := &mockStore{
		scanFn: func(_ context.Context, pattern string) ([]string, error) {
			if pattern != "p:items:d:*" {
				t.Errorf("unexpected pattern %q", pattern)
			}
			// SCAN может вернуть ключ повторно
			return []string{"p:items:d:b", "p:items:d:a", "p:items:d:gone", "p:items:d:a"}, nil
		},
		hgetAllMultiFn: func(_ context.Context, keys []string) ([]map[string]string, error) {
			out := make([]map[string]string, len(keys))
			for i, k := range keys {
				if k != "p:items:d:gone" {
					out[i] = map[string]string{"f:title": k}
				}
			}
			return out, nil
		},
	}
	items, err := New(ms, "p:").List(context.Background(), "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID() != "a" || items[1].ID() != "b" {
		t.Fatalf("unexpected items %+v", items)
	}
	if items[0].Field("title") != "p:items:d:a" {
		t.Errorf("fields bound to the wrong key: %q", items[0].Field("title"))
	}
}

func TestCount_Dedupes(t *testing.T) {
	ms := &mockStore{scanFn: func(context.Context, string) ([]string, error) {
		return []string{"k:items:d:a", "k:items:d:a", "k:items:d:b"}, nil
	}}
	n, err := New(ms, "k:").Count(context.Background(), "d")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

func TestMemory_CopiesOnWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	it := domitem.Reconstruct("a", map[string]string{"title": "t"}, "")
	if err := m.Upsert(ctx, "d", []domitem.Item{it}); err != nil {
		t.Fatal(err)
	}
	fields := it.Fields()
	fields["title"] = "mutated"

	got, err := m.Get(ctx, "d", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Field("title") != "t" {
		t.Errorf("stored item changed through a caller map: %q", got.Field("title"))
	}
}
