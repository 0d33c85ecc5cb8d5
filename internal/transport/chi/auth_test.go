package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func authDo(h http.Handler, method, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const recommendPath = "/recommend?dataset=mathe&iid=962.pdf"

func TestAuthMiddleware_Disabled(t *testing.T) {
	for _, keys := range [][]string{nil, {"", ""}} {
		h := BearerAuthMiddleware(keys, nil)(okHandler())
		if rr := authDo(h, http.MethodGet, recommendPath, ""); rr.Code != http.StatusOK {
			t.Errorf("keys %q: got %d, want 200", keys, rr.Code)
		}
		if rr := authDo(h, http.MethodPost, "/datasets/mathe/rebuild", ""); rr.Code != http.StatusOK {
			t.Errorf("keys %q rebuild: got %d, want 200", keys, rr.Code)
		}
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	h := BearerAuthMiddleware([]string{"secret"}, nil)(okHandler())

	tests := []struct {
		name string
		auth string
	}{
		{"missing header", ""},
		{"basic scheme", "Basic c2VjcmV0"},
		{"empty token", "Bearer "},
		{"wrong token", "Bearer wrong"},
		{"prefix of key", "Bearer secre"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := authDo(h, http.MethodGet, recommendPath, tt.auth)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("got %d, want 401", rr.Code)
			}
			var body ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if body.Code != ErrorResponseCodeUnauthorized {
				t.Errorf("code: got %s", body.Code)
			}
		})
	}
}

func TestAuthMiddleware_Accepts(t *testing.T) {
	h := BearerAuthMiddleware([]string{"key-a", "key-b"}, nil)(okHandler())

	for _, auth := range []string{"Bearer key-a", "Bearer key-b", "bearer key-a"} {
		if rr := authDo(h, http.MethodGet, recommendPath, auth); rr.Code != http.StatusOK {
			t.Errorf("%q: got %d, want 200", auth, rr.Code)
		}
	}
	// без admin-ключей обычный ключ может пересобирать
	if rr := authDo(h, http.MethodPost, "/datasets/mathe/rebuild", "Bearer key-a"); rr.Code != http.StatusOK {
		t.Errorf("rebuild without admin keys: got %d, want 200", rr.Code)
	}
}

func TestAuthMiddleware_AdminKeys(t *testing.T) {
	h := BearerAuthMiddleware([]string{"reader"}, []string{"admin"})(okHandler())

	tests := []struct {
		name   string
		method string
		target string
		auth   string
		want   int
	}{
		{"reader recommends", http.MethodGet, recommendPath, "Bearer reader", http.StatusOK},
		{"admin recommends", http.MethodGet, recommendPath, "Bearer admin", http.StatusOK},
		{"reader rebuilds", http.MethodPost, "/datasets/mathe/rebuild", "Bearer reader", http.StatusForbidden},
		{"admin rebuilds", http.MethodPost, "/datasets/mathe/rebuild", "Bearer admin", http.StatusOK},
		{"reader lists", http.MethodGet, "/datasets", "Bearer reader", http.StatusOK},
		{"unknown rebuilds", http.MethodPost, "/datasets/mathe/rebuild", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := authDo(h, tt.method, tt.target, tt.auth)
			if rr.Code != tt.want {
				t.Errorf("got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_AdminOnly(t *testing.T) {
	h := BearerAuthMiddleware(nil, []string{"admin"})(okHandler())

	if rr := authDo(h, http.MethodGet, recommendPath, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: got %d, want 401", rr.Code)
	}
	if rr := authDo(h, http.MethodGet, recommendPath, "Bearer admin"); rr.Code != http.StatusOK {
		t.Errorf("admin: got %d, want 200", rr.Code)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	h := BearerAuthMiddleware([]string{"secret"}, []string{"admin"})(okHandler())

	for _, path := range []string{"/health", "/metrics"} {
		if rr := authDo(h, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Errorf("%s: got %d, want 200", path, rr.Code)
		}
	}
}
