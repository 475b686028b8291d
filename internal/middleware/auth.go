package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const (
	RequestorKey contextKey = "requestor"

	// AnonymousRequestor is used when no API keys are configured.
	AnonymousRequestor = "anonymous"
)

// publicPaths bypass auth and rate limiting.
var publicPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/live":    true,
	"/metrics": true,
}

// APIKeyAuth validates the API key from the Authorization header and stores
// the owning requestor in the context. validKeys maps requestor ID to key.
// With no keys configured every caller is AnonymousRequestor.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if len(validKeys) == 0 {
				next.ServeHTTP(w, r.WithContext(WithRequestor(r.Context(), AnonymousRequestor)))
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				auth = r.Header.Get("X-API-Key")
			}
			// Support both "Bearer <key>" and "<key>" formats
			apiKey := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if apiKey == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}

			// constant-time, jangan break supaya waktu loop sama
			var requestor string
			for id, key := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					requestor = id
				}
			}
			if requestor == "" {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithRequestor(r.Context(), requestor)))
		})
	}
}

func WithRequestor(ctx context.Context, requestor string) context.Context {
	return context.WithValue(ctx, RequestorKey, requestor)
}

// GetRequestorFromContext extracts requestor from context
func GetRequestorFromContext(ctx context.Context) string {
	if requestor, ok := ctx.Value(RequestorKey).(string); ok {
		return requestor
	}
	return ""
}
