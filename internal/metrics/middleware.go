package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// datasetOther заменяет имена датасетов, которых нет в конфиге:
// значение из query не должно раздувать кардинальность.
const datasetOther = "other"

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route and dataset",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route", "dataset", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, dataset and status code",
		},
		[]string{"method", "route", "dataset", "status"},
	)

	httpResponseBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_bytes_total",
			Help:      "Response body bytes written by route",
		},
		[]string{"route"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration, httpRequestsTotal, httpResponseBytes, httpInFlight)
}

// Middleware records request duration, count and response size per chi
// route. The dataset label is taken from the "dataset" query parameter or
// the {dataset} path parameter and is kept only for names in datasets.
func Middleware(datasets ...string) func(next http.Handler) http.Handler {
	known := make(map[string]struct{}, len(datasets))
	for _, d := range datasets {
		known[d] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			// route pattern и path-параметры доступны только после роутинга
			rctx := chi.RouteContext(r.Context())
			route := routeLabel(rctx)
			dataset := datasetLabel(r, rctx, known)
			status := strconv.Itoa(ww.status)

			httpRequestDuration.WithLabelValues(r.Method, route, dataset, status).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, route, dataset, status).Inc()
			httpResponseBytes.WithLabelValues(route).Add(float64(ww.bytes))
		})
	}
}

func routeLabel(rctx *chi.Context) string {
	if rctx == nil {
		return "unknown"
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unknown"
}

func datasetLabel(r *http.Request, rctx *chi.Context, known map[string]struct{}) string {
	name := r.URL.Query().Get("dataset")
	if name == "" && rctx != nil {
		name = rctx.URLParam("dataset")
	}
	if name == "" {
		return ""
	}
	if _, ok := known[name]; ok {
		return name
	}
	return datasetOther
}

// statusWriter captures the response status code and body size.
type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err //nolint:wrapcheck // delegating to underlying ResponseWriter
}
