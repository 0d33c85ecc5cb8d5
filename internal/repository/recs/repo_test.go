package recs

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func seed(t *testing.T) (*Repo, *memStore) {
	t.Helper()
	ms := newMemStore()
	r := New(ms, "itemrec:")
	err := r.Replace(context.Background(), "taxguides", map[string][]string{
		"6.pdf":  {"9.pdf", "7.pdf"},
		"22.pdf": {"7.pdf"},
		"65.pdf": {},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Replace(context.Background(), "datasets", map[string][]string{"d1": {"d2"}}); err != nil {
		t.Fatal(err)
	}
	return r, ms
}

func TestReplace_EmptyListGetsPlaceholder(t *testing.T) {
	_, ms := seed(t)
	got := ms.sets["itemrec:recs:taxguides:65.pdf"]
	if len(got) != 1 || got[0] != Placeholder {
		t.Errorf("expected placeholder member, got %q", got)
	}
}

func TestGet(t *testing.T) {
	r, _ := seed(t)
	ctx := context.Background()

	got, ok, err := r.Get(ctx, "taxguides", "6.pdf", 0)
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if !slices.Equal(got, []string{"9.pdf", "7.pdf"}) {
		t.Errorf("expected rank order [9.pdf 7.pdf], got %v", got)
	}

	got, ok, err = r.Get(ctx, "taxguides", "65.pdf", 0)
	if err != nil || !ok {
		t.Fatalf("Get empty: %v %v", ok, err)
	}
	if len(got) != 0 {
		t.Errorf("placeholder leaked into result: %q", got)
	}

	_, ok, err = r.Get(ctx, "taxguides", "missing.pdf", 0)
	if err != nil || ok {
		t.Errorf("expected not published, got ok=%v err=%v", ok, err)
	}
}

func TestGet_LimitKeepsTopRanks(t *testing.T) {
	r, _ := seed(t)
	ctx := context.Background()
	if err := r.Replace(ctx, "taxguides", map[string][]string{"1.pdf": {"zz.pdf", "mm.pdf", "aa.pdf"}}); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		limit int
		want  []string
	}{
		{1, []string{"zz.pdf"}},
		{2, []string{"zz.pdf", "mm.pdf"}},
		{10, []string{"zz.pdf", "mm.pdf", "aa.pdf"}},
	} {
		got, ok, err := r.Get(ctx, "taxguides", "1.pdf", tc.limit)
		if err != nil || !ok {
			t.Fatalf("Get(limit=%d): %v %v", tc.limit, ok, err)
		}
		if !slices.Equal(got, tc.want) {
			t.Errorf("Get(limit=%d) = %v, want %v", tc.limit, got, tc.want)
		}
	}
}

func TestReplace_Overwrites(t *testing.T) {
	r, _ := seed(t)
	ctx := context.Background()
	if err := r.Replace(ctx, "taxguides", map[string][]string{"6.pdf": {"65.pdf"}}); err != nil {
		t.Fatal(err)
	}
	got, _, _ := r.Get(ctx, "taxguides", "6.pdf", 0)
	if !slices.Equal(got, []string{"65.pdf"}) {
		t.Errorf("old members survived: %v", got)
	}
}

func TestItems(t *testing.T) {
	r, _ := seed(t)
	got, err := r.Items(context.Background(), "taxguides")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"22.pdf", "6.pdf", "65.pdf"}) {
		t.Errorf("unexpected items %v", got)
	}
}

func TestDeployments(t *testing.T) {
	r, _ := seed(t)
	got, err := r.Deployments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"datasets", "taxguides"}) {
		t.Errorf("unexpected deployments %v", got)
	}
}

func TestReferrers(t *testing.T) {
	r, _ := seed(t)
	got, err := r.Referrers(context.Background(), "taxguides", "7.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"22.pdf", "6.pdf"}) {
		t.Errorf("unexpected referrers %v", got)
	}

	got, err = r.Referrers(context.Background(), "taxguides", "nobody.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no referrers, got %v", got)
	}
}

func TestScanError(t *testing.T) {
	r, ms := seed(t)
	boom := errors.New("boom")
	ms.scanErr = boom
	if _, err := r.Items(context.Background(), "taxguides"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped scan error, got %v", err)
	}
}
