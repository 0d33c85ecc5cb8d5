package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/itemrec"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "://bad"} {
		if _, err := New(raw); err == nil {
			t.Errorf("New(%q): expected error", raw)
		}
	}
}

func TestRecommend_QueryAndHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/recommend" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("dataset") != "papers" || q.Get("iid") != "a" || q.Get("n") != "2" || q.Get("k") != "10" {
			t.Errorf("query: %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth header: %q", got)
		}
		if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "itemrec-sdk/") {
			t.Errorf("user agent: %q", got)
		}
		w.Header().Set("X-Embedding-Tokens", "7")
		writeJSON(w, http.StatusOK, RecommendResponse{
			Dataset:         "papers",
			Iid:             "a",
			Recommendations: []string{"b", "c"},
			Results:         []Ranked{{ItemID: "b", Score: 0.9, Rank: 1}, {ItemID: "c", Score: 0.5, Rank: 2}},
			Provenance:      &Provenance{SnapshotID: "s1", Backends: []string{"dense"}},
		})
	}, WithAPIKey("secret"))

	resp, err := c.Recommend(context.Background(), "papers", "a", N(2), K(10))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(resp.Recommendations) != 2 || resp.Recommendations[0] != "b" {
		t.Errorf("recommendations: %v", resp.Recommendations)
	}
	if resp.EmbeddingTokens != 7 {
		t.Errorf("tokens: got %d, want 7", resp.EmbeddingTokens)
	}
	if resp.Provenance == nil || resp.Provenance.SnapshotID != "s1" {
		t.Errorf("provenance: %+v", resp.Provenance)
	}
}

func TestRecommendText_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["text"] != "graph search" || body["dataset"] != "papers" {
			t.Errorf("body: %v", body)
		}
		if _, ok := body["k"]; ok {
			t.Error("k must be omitted when unset")
		}
		writeJSON(w, http.StatusOK, RecommendResponse{Dataset: "papers", Recommendations: []string{"c"}})
	})

	resp, err := c.RecommendText(context.Background(), "papers", "graph search", N(1))
	if err != nil {
		t.Fatalf("RecommendText: %v", err)
	}
	if len(resp.Recommendations) != 1 || resp.EmbeddingTokens != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestErrors_MapToSentinels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"item not found", http.StatusNotFound, "item_not_found", itemrec.ErrItemNotFound},
		{"unknown dataset", http.StatusNotFound, "dataset_not_found", itemrec.ErrUnknownDeployment},
		{"bad pool", http.StatusBadRequest, "invalid_input", itemrec.ErrInvalidInput},
		{"timeout", http.StatusGatewayTimeout, "retrieval_timeout", itemrec.ErrRetrievalTimeout},
		{"index", http.StatusServiceUnavailable, "index_unavailable", itemrec.ErrIndexUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, map[string]string{"code": tt.code, "message": "nope", "stage": "retrieve"})
			})
			_, err := c.Recommend(context.Background(), "papers", "zz")
			if !errors.Is(err, tt.want) {
				t.Fatalf("errors.Is(%v, %v) = false", err, tt.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Stage != "retrieve" {
				t.Errorf("api error: %+v", apiErr)
			}
		})
	}
}

func TestErrors_NonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	_, err := c.Datasets(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != "http_502" || apiErr.Message != "upstream down" {
		t.Errorf("api error: %+v", apiErr)
	}
	if errors.Unwrap(apiErr) != nil {
		t.Error("unknown codes must not unwrap")
	}
}

func TestDatasets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/datasets":
			writeJSON(w, http.StatusOK, datasetListResponse{Items: []Dataset{
				{Name: "papers", Live: true, SnapshotID: "s1", Items: 5},
				{Name: "music", Precomputed: true},
			}})
		case r.Method == http.MethodGet && r.URL.Path == "/datasets/music/referrers":
			if r.URL.Query().Get("iid") != "x" {
				t.Errorf("iid: %s", r.URL.RawQuery)
			}
			writeJSON(w, http.StatusOK, referrersResponse{Referrers: []string{"y", "z"}})
		case r.Method == http.MethodPost && r.URL.Path == "/datasets/papers/rebuild":
			writeJSON(w, http.StatusOK, Dataset{Name: "papers", Live: true, SnapshotID: "s2", Items: 6})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	list, err := c.Datasets(ctx)
	if err != nil || len(list) != 2 || !list[1].Precomputed {
		t.Fatalf("Datasets: %v %+v", err, list)
	}
	refs, err := c.Referrers(ctx, "music", "x")
	if err != nil || len(refs) != 2 {
		t.Fatalf("Referrers: %v %v", err, refs)
	}
	ds, err := c.Rebuild(ctx, "papers")
	if err != nil || ds.SnapshotID != "s2" {
		t.Fatalf("Rebuild: %v %+v", err, ds)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, HealthStatus{
			Status: "error",
			Checks: map[string]string{"deployments": "error"},
		})
	})
	status, err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if status.Status != "error" || status.Checks["deployments"] != "error" {
		t.Errorf("status: %+v", status)
	}
}

func TestHealth_OK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthStatus{Status: "ok", Datasets: 2})
	})
	status, err := c.Health(context.Background())
	if err != nil || status.Datasets != 2 {
		t.Fatalf("Health: %v %+v", err, status)
	}
}

func TestPrometheus_CountsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	var fail atomic.Bool
	fail.Store(true)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "item_not_found", "message": "no"})
			return
		}
		writeJSON(w, http.StatusOK, RecommendResponse{})
	}, WithPrometheus(reg))

	_, _ = c.Recommend(context.Background(), "papers", "zz")
	fail.Store(false)
	_, _ = c.Recommend(context.Background(), "papers", "a")

	m, err := newSDKMetrics(reg)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("recommend", "item_not_found")); got != 1 {
		t.Errorf("item_not_found count: got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("recommend", "ok")); got != 1 {
		t.Errorf("ok count: got %v", got)
	}
}
