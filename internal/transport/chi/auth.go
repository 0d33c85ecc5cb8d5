package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// exemptPaths bypass authentication so health checks and scrapers need no key.
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type keyRole int

const (
	roleNone keyRole = iota
	roleRead
	roleAdmin
)

type keyring struct {
	read  [][]byte
	admin [][]byte
}

func newKeyring(apiKeys, adminKeys []string) keyring {
	var kr keyring
	for _, k := range apiKeys {
		if k != "" {
			kr.read = append(kr.read, []byte(k))
		}
	}
	for _, k := range adminKeys {
		if k != "" {
			kr.admin = append(kr.admin, []byte(k))
		}
	}
	return kr
}

func (kr keyring) empty() bool { return len(kr.read) == 0 && len(kr.admin) == 0 }

// role compares the token against every key in constant time.
func (kr keyring) role(token string) keyRole {
	t := []byte(token)
	role := roleNone
	for _, k := range kr.admin {
		if subtle.ConstantTimeCompare(t, k) == 1 {
			role = roleAdmin
		}
	}
	if role == roleAdmin {
		return role
	}
	for _, k := range kr.read {
		if subtle.ConstantTimeCompare(t, k) == 1 {
			role = roleRead
		}
	}
	if role == roleRead && len(kr.admin) == 0 {
		// без админских ключей любой валидный ключ может всё
		return roleAdmin
	}
	return role
}

// requiresAdmin reports whether the request mutates a dataset.
func requiresAdmin(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/datasets/") &&
		strings.HasSuffix(r.URL.Path, "/rebuild")
}

// BearerAuthMiddleware validates Bearer tokens against apiKeys and adminKeys.
// Rebuild requests need an admin key when adminKeys is non-empty.
// With no keys at all authentication is disabled.
func BearerAuthMiddleware(apiKeys, adminKeys []string) func(http.Handler) http.Handler {
	kr := newKeyring(apiKeys, adminKeys)

	return func(next http.Handler) http.Handler {
		if kr.empty() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrorResponseCodeUnauthorized,
					"authorization header must be \"Bearer <key>\"")
				return
			}

			switch role := kr.role(token); {
			case role == roleNone:
				writeError(w, http.StatusUnauthorized, ErrorResponseCodeUnauthorized, "invalid api key")
			case role == roleRead && requiresAdmin(r):
				writeError(w, http.StatusForbidden, ErrorResponseCodeForbidden, "rebuild requires an admin key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
