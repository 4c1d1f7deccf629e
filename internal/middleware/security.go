// internal/middleware/security.go
//
// Security-header middleware for the ops API.
//
// The API only serves JSON and Prometheus text, so the policy is the
// strictest one that still lets those through:
//
//   • Content-Security-Policy  –  nothing may load, nothing may frame us.
//   • X-Content-Type-Options   –  no MIME sniffing.
//   • Referrer-Policy          –  never leak the path.
//   • Cache-Control            –  numbers are live, never cache them.
//
// Notes
// -----
// • Headers are set before next runs, and only when the handler has not
//   already chosen a value.  Set-after-write would be a no-op.

package middleware

import "net/http"

var securityHeaders = [...][2]string{
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

// Security sets security headers for every response.
func Security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			if h.Get(kv[0]) == "" {
				h.Set(kv[0], kv[1])
			}
		}
		next.ServeHTTP(w, r)
	})
}
