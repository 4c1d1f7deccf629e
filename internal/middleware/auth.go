// internal/middleware/auth.go
//
// Bearer-token guard for the read-only API.  The token comes from
// http.api_token, usually a vault: reference.  An empty token closes the
// guarded routes instead of opening them.

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// RequireToken rejects requests whose Authorization header is not
// "Bearer <token>".
func RequireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if len(want) == 0 || !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				zap.L().Named("http").Info("unauthorized",
					zap.String("path", r.URL.Path), zap.Stringer("ip", ClientIP(r)))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
