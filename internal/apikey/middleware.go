// Package apikey guards operator endpoints behind an X-API-Key header.
package apikey

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
)

// Header carries the operator API key.
const Header = "X-API-Key"

type contextKey struct{}

// Config maps accepted keys to a label recorded with each authenticated request.
type Config struct {
	Enabled bool
	Keys    map[string]string
}

// Active reports whether requests must present a key.
func (c Config) Active() bool {
	return c.Enabled && len(c.Keys) > 0
}

// lookup compares against every configured key in constant time.
func (c Config) lookup(presented string) (string, bool) {
	label, found := "", false
	for key, l := range c.Keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			label, found = l, true
		}
	}
	return label, found
}

// Identify records the label of a valid key on the request without rejecting anything.
// Rate limiters use it to exempt operators.
func Identify(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Active() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if label, ok := cfg.lookup(strings.TrimSpace(r.Header.Get(Header))); ok {
				r = r.WithContext(context.WithValue(r.Context(), contextKey{}, label))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require rejects requests without a valid key when the guard is active.
func Require(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Active() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimSpace(r.Header.Get(Header))
			if presented == "" {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorizedAPIKey, "X-API-Key header is required")
				return
			}
			label, ok := cfg.lookup(presented)
			if !ok {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorizedAPIKey, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, label)))
		})
	}
}

// Label returns the label of the key that authenticated the request.
func Label(r *http.Request) (string, bool) {
	label, ok := r.Context().Value(contextKey{}).(string)
	return label, ok
}

// IsAuthenticated reports whether the request carried a valid operator key.
func IsAuthenticated(r *http.Request) bool {
	_, ok := Label(r)
	return ok
}
