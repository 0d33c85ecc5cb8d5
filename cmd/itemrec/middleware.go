package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	logpkg "github.com/kailas-cloud/itemrec/internal/logger"
)

// jsonRecoverer turns a handler panic into a 500 with the regular error body.
// http.ErrAbortHandler is re-panicked so net/http can drop the connection.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if err, ok := rvr.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rvr)
				}
				logpkg.FromContextOr(r.Context(), logger).Error("panic recovered",
					zap.Any("panic", rvr),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stacktrace"),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":    "internal_error",
					"message": "internal error",
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware пишет одну строку лога на запрос: маршрут, датасет,
// снапшот и расход токенов. X-Request-ID возвращается клиенту.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
				zap.String("remote", r.RemoteAddr),
			}
			q := r.URL.Query()
			if ds := q.Get("dataset"); ds != "" {
				fields = append(fields, zap.String("dataset", ds))
			}
			if iid := q.Get("iid"); iid != "" {
				fields = append(fields, zap.String("iid", iid))
			}
			h := ww.Header()
			if snap := h.Get("X-Snapshot-ID"); snap != "" {
				fields = append(fields, zap.String("snapshot_id", snap))
			}
			if tokens := h.Get("X-Embedding-Tokens"); tokens != "" {
				fields = append(fields, zap.String("embedding_tokens", tokens))
			}

			reqLogger.Check(requestLevel(ww.Status()), "http_request").Write(fields...)
		})
	}
}

// requestLevel: 5xx are warnings, everything else is info.
func requestLevel(status int) zapcore.Level {
	if status >= http.StatusInternalServerError {
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
