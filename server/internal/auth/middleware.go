package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Token returns HTTP middleware that enforces token authentication on every
// request passing through it.
//
// Behaviour:
//   - If token == "", all requests are allowed (pass-through).
//   - Otherwise the token is read from HTTP basic auth (the username is
//     ignored, the password carries the token) or from an
//     "Authorization: Bearer <token>" header.
//   - A missing or incorrect token returns 401 with a Basic challenge.
func Token(realm, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}

		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := credential(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Warn("auth: rejected request",
					"realm", realm, "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credential(r *http.Request) (string, bool) {
	if _, password, ok := r.BasicAuth(); ok {
		return password, password != ""
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
		return token, true
	}
	return "", false
}
