package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/keystore"
)

// extractCredential checks the three accepted credential carriers in
// preference order: Bearer header, X-API-Key header, api_key query param
// (the last kept for debugging only).
func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// AuthConfig configures the API-key authentication middleware's fallback
// behavior: a legacy plaintext allowlist, and an explicit open mode.
type AuthConfig struct {
	LegacyAllowlist []string
	AllowOpenMode   bool
}

func inAllowlist(allowlist []string, credential string) bool {
	for _, a := range allowlist {
		if subtle.ConstantTimeCompare([]byte(a), []byte(credential)) == 1 {
			return true
		}
	}
	return false
}

// AuthMiddleware extracts and validates the caller's API key, attaching
// {key_id, key_type} to the request context on success and stamping
// last_used_at. Usage audit rows are written downstream by
// recordUsageMiddleware, not here.
func AuthMiddleware(store *keystore.Store, cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := extractCredential(r)
			if credential == "" {
				if cfg.AllowOpenMode {
					next.ServeHTTP(w, r)
					return
				}
				writeAppError(w, r, apperr.New(apperr.Unauthenticated, "missing API credential"))
				return
			}

			key, err := store.FindByPlaintext(r.Context(), credential)
			if err != nil {
				if apperr.As(err).Kind == apperr.NotFound {
					if inAllowlist(cfg.LegacyAllowlist, credential) {
						next.ServeHTTP(w, r)
						return
					}
					writeAppError(w, r, apperr.New(apperr.AuthFailed, "invalid API credential"))
					return
				}
				writeAppError(w, r, err)
				return
			}

			if !key.IsUsable(time.Now().UTC()) {
				writeAppError(w, r, apperr.New(apperr.AuthFailed, "API key is inactive or expired"))
				return
			}

			go store.TouchLastUsed(context.Background(), key.ID)

			ctx := withAPIKey(r.Context(), key.ID, string(key.KeyType))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware requires the configured admin credential via X-Admin-Key.
func AdminMiddleware(adminCredential string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Key")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminCredential)) != 1 {
				writeAppError(w, r, apperr.New(apperr.Unauthenticated, "missing or invalid admin credential"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
