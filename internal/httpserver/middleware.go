package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
)

// The API only ever returns JSON, so nothing may be framed, sniffed or loaded from it.
var responseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

const hstsHeader = "max-age=31536000; includeSubDomains"

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range responseHeaders {
			h.Set(kv[0], kv[1])
		}
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			h.Set("Strict-Transport-Security", hstsHeader)
		}
		next.ServeHTTP(w, r)
	})
}

// bearerGuard admits requests whose Authorization header carries token.
// An empty token leaves the route open.
func bearerGuard(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, got, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="metrics"`)
				apierrors.WriteSimpleError(w, apierrors.ErrCodeAuthenticationFailed, "Invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
