package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
	"github.com/CedrosPay/terminal/internal/logger"
)

const (
	// HeaderKey carries the client's idempotency key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay is set on replayed responses.
	HeaderReplay = "X-Idempotency-Replay"

	// DefaultTTL is how long a response is replayed.
	DefaultTTL = 24 * time.Hour

	maxKeyLength  = 255
	maxBodyBuffer = 1 << 20
)

type contextKey struct{}

// KeyFromContext returns the client idempotency key of the request, if any.
// Handlers forward it to the processor so duplicate requests map to the same intent.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKey{}).(string)
	return key
}

// Middleware replays 2xx responses for repeated keys. A key reused with a different body,
// or while the first request is still running, is rejected with idempotency_conflict.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderKey)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBuffer))
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Unable to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := fingerprintOf(body)

			// Keys are scoped per endpoint.
			key := r.Method + ":" + r.URL.Path + ":" + raw
			ctx := r.Context()

			if cached, ok := store.Get(ctx, key); ok {
				if cached.Fingerprint != fingerprint {
					apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyConflict, "Idempotency-Key was already used with a different request")
					return
				}
				replay(w, cached)
				return
			}

			if !store.Reserve(ctx, key) {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyConflict, "A request with this Idempotency-Key is still in progress")
				return
			}
			defer store.Release(ctx, key)

			var captured bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(ctx, contextKey{}, raw)))

			status := ww.Status()
			if status == 0 && captured.Len() > 0 {
				status = http.StatusOK
			}
			if status < 200 || status >= 300 {
				return
			}
			headers := make(map[string]string, len(w.Header()))
			for k := range w.Header() {
				headers[k] = w.Header().Get(k)
			}
			err = store.Set(ctx, key, &Response{
				StatusCode:  status,
				Headers:     headers,
				Body:        captured.Bytes(),
				Fingerprint: fingerprint,
				CachedAt:    time.Now().UTC(),
			}, ttl)
			if err != nil {
				log := logger.FromContext(ctx)
				log.Warn().Err(err).Msg("idempotency.store_failed")
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *Response) {
	for k, v := range cached.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set(HeaderReplay, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
