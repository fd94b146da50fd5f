package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const (
	TenantKey contextKey = "tenant"
	APIKeyKey contextKey = "api_key"
	OpsKey    contextKey = "ops"
)

// publicPaths never require an API key.
var publicPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/live":    true,
	"/metrics": true,
}

// APIKeyAuth validates API key from Authorization header.
// validKeys maps tenant -> key. opsKey, if set, authorizes /v1/ops routes.
func APIKeyAuth(validKeys map[string]string, opsKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			apiKey, ok := bearer(r)
			if !ok {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			if strings.HasPrefix(r.URL.Path, "/v1/ops/") {
				if opsKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(opsKey)) != 1 {
					http.Error(w, "invalid ops key", http.StatusUnauthorized)
					return
				}
				ctx := context.WithValue(r.Context(), OpsKey, true)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// constant-time comparison, semua key dicek
			var tenant string
			for t, key := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					tenant = t
				}
			}
			if tenant == "" {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), TenantKey, tenant)
			ctx = context.WithValue(ctx, APIKeyKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearer supports both "Bearer <key>" and "<key>" formats.
func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return key, key != ""
}

// GetTenantFromContext extracts tenant from context
func GetTenantFromContext(ctx context.Context) string {
	if tenant, ok := ctx.Value(TenantKey).(string); ok {
		return tenant
	}
	return ""
}

// RequireTenant ensures the tenant from the URL matches the authenticated
// tenant. param reads the URL tenant (chi.URLParam in the router).
func RequireTenant(param func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			urlTenant := param(r)
			if err := ValidateTenantID(urlTenant); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if authTenant := GetTenantFromContext(r.Context()); authTenant != urlTenant {
				http.Error(w, "tenant mismatch", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
