package chi

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	gochi "github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/domain/recommend/request"
	"github.com/kailas-cloud/itemrec/internal/index"
	healthuc "github.com/kailas-cloud/itemrec/internal/usecase/health"
	"github.com/kailas-cloud/itemrec/internal/usecase/pipeline"
)

// DefaultMaxResults caps n when a deployment sets no limit.
const DefaultMaxResults = 20

// Recommender serves live recommendations for one deployment.
type Recommender interface {
	Recommend(ctx context.Context, q request.Query, kPool, nResults int) (pipeline.Response, error)
	Snapshot() *index.Snapshot
}

// Rebuilder rebuilds and publishes a deployment snapshot.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*index.Snapshot, error)
}

// Precomputed reads published top-N lists.
type Precomputed interface {
	Get(ctx context.Context, deployment, id string, n int) ([]string, error)
	ListDeployments(ctx context.Context) ([]string, error)
	Referrers(ctx context.Context, deployment, id string) ([]string, error)
}

// Deployment is everything the API needs to serve one dataset live.
type Deployment struct {
	Pipeline   Recommender
	Indexer    Rebuilder // nil disables POST /datasets/{dataset}/rebuild
	PoolSize   int
	Results    int
	MaxResults int
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the recommendation API.
type Server struct {
	deployments   map[string]Deployment
	precomputed   Precomputed
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. precomputed may be nil.
func NewServer(
	deployments map[string]Deployment,
	precomputed Precomputed,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		deployments: deployments,
		precomputed: precomputed,
		health:      health,
		logger:      logger,
	}
	// Refinements go before the kinds they wrap.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnknownDeployment, http.StatusNotFound, ErrorResponseCodeDatasetNotFound),
		sentinelHandler(domain.ErrItemNotFound, http.StatusNotFound, ErrorResponseCodeItemNotFound),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, ErrorResponseCodeInvalidInput),
		sentinelHandler(domain.ErrConfiguration, http.StatusUnprocessableEntity, ErrorResponseCodeConfiguration),
		sentinelHandler(domain.ErrRetrievalTimeout, http.StatusGatewayTimeout, ErrorResponseCodeRetrievalTimeout),
		sentinelHandler(domain.ErrRerankTimeout, http.StatusGatewayTimeout, ErrorResponseCodeRerankTimeout),
		sentinelHandler(domain.ErrEncoderUnavailable,
			http.StatusServiceUnavailable, ErrorResponseCodeEncoderUnavailable),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, ErrorResponseCodeIndexUnavailable),
		sentinelHandler(domain.ErrDimensionMismatch,
			http.StatusInternalServerError, ErrorResponseCodeDimensionMismatch),
		sentinelHandler(domain.ErrScoringFailed, http.StatusBadGateway, ErrorResponseCodeScoringFailed),
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/recommend", s.Recommend)
	r.Post("/recommend", s.RecommendText)
	r.Get("/datasets", s.ListDatasets)
	r.Get("/datasets/{dataset}/referrers", s.Referrers)
	r.Post("/datasets/{dataset}/rebuild", s.Rebuild)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Recommend handles GET /recommend. Datasets without a live snapshot are
// served from precomputed lists.
func (s *Server) Recommend(w http.ResponseWriter, r *http.Request) {
	var params RecommendParams
	if err := bindRecommendParams(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		return
	}

	dep, live := s.live(params.Dataset)
	if !live {
		s.recommendPrecomputed(w, r, params)
		return
	}

	q, err := request.NewItemQuery(params.Iid)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	s.recommend(w, r, params.Dataset, params.Iid, dep, q, params.K, params.N)
}

// RecommendText handles POST /recommend with ad-hoc text.
func (s *Server) RecommendText(w http.ResponseWriter, r *http.Request) {
	var req RecommendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Dataset == "" {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "dataset is required")
		return
	}

	dep, ok := s.live(req.Dataset)
	if !ok {
		s.handleDomainError(w, s.notLive(req.Dataset))
		return
	}

	q, err := request.NewTextQuery(req.Text)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	s.recommend(w, r, req.Dataset, "", dep, q, req.K, req.N)
}

func (s *Server) recommend(
	w http.ResponseWriter,
	r *http.Request,
	dataset, iid string,
	dep Deployment,
	q request.Query,
	kPtr, nPtr *int,
) {
	k := derefInt(kPtr, dep.PoolSize, request.DefaultPool)
	n := derefInt(nPtr, dep.Results, request.DefaultN)
	if maxN := derefInt(nil, dep.MaxResults, DefaultMaxResults); n > maxN {
		s.handleDomainError(w, fmt.Errorf("n %d exceeds maximum %d: %w", n, maxN, domain.ErrInvalidInput))
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := dep.Pipeline.Recommend(ctx, q, k, n)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	ids := make([]string, len(resp.Results))
	for i, res := range resp.Results {
		ids[i] = res.ItemID
	}

	setEmbeddingHeaders(w, usage)
	w.Header().Set("X-Snapshot-ID", resp.Provenance.SnapshotID)
	writeJSON(w, http.StatusOK, RecommendResponse{
		Dataset:         dataset,
		Iid:             iid,
		Recommendations: ids,
		Results:         resp.Results,
		Provenance:      &resp.Provenance,
	})
}

func (s *Server) recommendPrecomputed(w http.ResponseWriter, r *http.Request, params RecommendParams) {
	if s.precomputed == nil {
		s.handleDomainError(w, s.notLive(params.Dataset))
		return
	}
	ctx := r.Context()

	published, err := s.precomputed.ListDeployments(ctx)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if !slices.Contains(published, params.Dataset) {
		s.handleDomainError(w, s.notLive(params.Dataset))
		return
	}

	n := derefInt(params.N, 0, request.DefaultN)
	if n <= 0 || n > DefaultMaxResults {
		s.handleDomainError(w, fmt.Errorf("n must be in [1, %d], got %d: %w", DefaultMaxResults, n, domain.ErrInvalidInput))
		return
	}

	ids, err := s.precomputed.Get(ctx, params.Dataset, params.Iid, n)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RecommendResponse{
		Dataset:         params.Dataset,
		Iid:             params.Iid,
		Recommendations: ids,
		Precomputed:     true,
	})
}

// notLive explains why a dataset cannot be served: configured but not built yet, or unknown.
func (s *Server) notLive(dataset string) error {
	if _, ok := s.deployments[dataset]; ok {
		return fmt.Errorf("dataset %q has no snapshot: %w", dataset, domain.ErrIndexUnavailable)
	}
	return fmt.Errorf("%q: %w", dataset, domain.ErrUnknownDeployment)
}

// ListDatasets handles GET /datasets.
func (s *Server) ListDatasets(w http.ResponseWriter, r *http.Request) {
	byName := make(map[string]*Dataset, len(s.deployments))
	for name, dep := range s.deployments {
		byName[name] = datasetFromSnapshot(name, dep.Pipeline.Snapshot())
	}

	if s.precomputed != nil {
		published, err := s.precomputed.ListDeployments(r.Context())
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		for _, name := range published {
			ds, ok := byName[name]
			if !ok {
				ds = &Dataset{Name: name}
				byName[name] = ds
			}
			ds.Precomputed = true
		}
	}

	items := make([]Dataset, 0, len(byName))
	for _, ds := range byName {
		items = append(items, *ds)
	}
	slices.SortFunc(items, func(a, b Dataset) int { return cmp.Compare(a.Name, b.Name) })

	writeJSON(w, http.StatusOK, DatasetListResponse{Items: items})
}

// Referrers handles GET /datasets/{dataset}/referrers.
func (s *Server) Referrers(w http.ResponseWriter, r *http.Request) {
	dataset, err := bindDataset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		return
	}
	var iid string
	if err := runtime.BindQueryParameter("form", true, true, "iid", r.URL.Query(), &iid); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid format for parameter iid: "+err.Error())
		return
	}
	if s.precomputed == nil {
		writeError(w, http.StatusNotImplemented, ErrorResponseCodeNotImplemented, "precomputed lists are not configured")
		return
	}

	refs, err := s.precomputed.Referrers(r.Context(), dataset, iid)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if refs == nil {
		refs = []string{}
	}

	writeJSON(w, http.StatusOK, ReferrersResponse{Dataset: dataset, Iid: iid, Referrers: refs})
}

// Rebuild handles POST /datasets/{dataset}/rebuild.
func (s *Server) Rebuild(w http.ResponseWriter, r *http.Request) {
	dataset, err := bindDataset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		return
	}
	dep, ok := s.deployments[dataset]
	if !ok {
		s.handleDomainError(w, fmt.Errorf("%q: %w", dataset, domain.ErrUnknownDeployment))
		return
	}
	if dep.Indexer == nil {
		writeError(w, http.StatusNotImplemented, ErrorResponseCodeNotImplemented, "rebuild is not enabled for "+dataset)
		return
	}

	snap, err := dep.Indexer.Rebuild(r.Context())
	if err != nil && snap == nil {
		s.handleDomainError(w, err)
		return
	}
	if err != nil {
		// новый снапшот уже обслуживает запросы, не сохранился только артефакт
		s.logger.Warn("rebuild not persisted", zap.String("dataset", dataset), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, datasetFromSnapshot(dataset, snap))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:   string(report.Status),
		Checks:   checks,
		Datasets: report.Datasets,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) live(dataset string) (Deployment, bool) {
	dep, ok := s.deployments[dataset]
	if !ok || dep.Pipeline == nil || dep.Pipeline.Snapshot() == nil {
		return Deployment{}, false
	}
	return dep, true
}

func bindRecommendParams(r *http.Request, params *RecommendParams) error {
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "dataset", query, &params.Dataset); err != nil {
		return fmt.Errorf("invalid format for parameter dataset: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, true, "iid", query, &params.Iid); err != nil {
		return fmt.Errorf("invalid format for parameter iid: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "n", query, &params.N); err != nil {
		return fmt.Errorf("invalid format for parameter n: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "k", query, &params.K); err != nil {
		return fmt.Errorf("invalid format for parameter k: %w", err)
	}
	return nil
}

func bindDataset(r *http.Request) (string, error) {
	var dataset string
	err := runtime.BindStyledParameterWithOptions("simple", "dataset", gochi.URLParam(r, "dataset"), &dataset,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", fmt.Errorf("invalid format for parameter dataset: %w", err)
	}
	return dataset, nil
}

func datasetFromSnapshot(name string, snap *index.Snapshot) *Dataset {
	ds := &Dataset{Name: name}
	if snap == nil {
		return ds
	}
	m := snap.Manifest()
	ds.Live = true
	ds.SnapshotID = m.ID
	ds.Items = m.ItemCount
	if m.Encoder.Name != "" {
		ds.Encoder = m.Encoder.String()
	}
	builtAt := m.BuiltAt
	ds.BuiltAt = &builtAt
	return ds
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Used() {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a client-facing message. Caller mistakes are echoed
// in full; server-side failures expose only the error kind.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrConfiguration) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrRetrievalTimeout,
		domain.ErrRerankTimeout,
		domain.ErrEncoderUnavailable,
		domain.ErrIndexUnavailable,
		domain.ErrDimensionMismatch,
		domain.ErrScoringFailed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeJSON(w, status, ErrorResponse{
			Code:    code,
			Message: msg,
			Stage:   string(domain.StageOf(err)),
		})
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.String("kind", domain.KindOf(err)), zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}

// derefInt returns *p, else fallback when positive, else def.
func derefInt(p *int, fallback, def int) int {
	if p != nil {
		return *p
	}
	if fallback > 0 {
		return fallback
	}
	return def
}
