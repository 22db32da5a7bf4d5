package httpapi

import (
	"context"
	"net/http"

	"github.com/agentctl/agentctl/internal/keystore"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlationId"
	apiKeyIDKey      contextKey = "apiKeyId"
	keyTypeKey       contextKey = "keyType"
)

// CorrelationMiddleware reads X-Correlation-ID header and adds it to
// context, generating one if the caller didn't supply it. This enables
// end-to-end request tracing across client and server logs.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		logger := log.With().Str("correlation_id", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)
	})
}

// GetCorrelationID retrieves the correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

func withAPIKey(ctx context.Context, keyID, keyType string) context.Context {
	ctx = context.WithValue(ctx, apiKeyIDKey, keyID)
	ctx = context.WithValue(ctx, keyTypeKey, keyType)
	return ctx
}

// APIKeyID returns the authenticated caller's key id, or "" if unauthenticated.
func APIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}

// KeyType returns the authenticated caller's key type ("standard" or
// "internal"), or "" if unauthenticated.
func KeyType(ctx context.Context) string {
	if t, ok := ctx.Value(keyTypeKey).(string); ok {
		return t
	}
	return ""
}

// recordUsageMiddleware appends one ApiKeyUsage audit row per
// authenticated request, fired off after the handler completes so the
// request isn't held up waiting on the write.
func (s *Server) recordUsageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		keyID := APIKeyID(r.Context())
		if keyID == "" {
			return
		}
		// The request object must not be touched once this goroutine runs;
		// everything it needs is copied out first.
		params := keystore.RecordUsageParams{
			KeyID:      keyID,
			Endpoint:   r.URL.Path,
			Method:     r.Method,
			StatusCode: ww.Status(),
			IP:         clientKey(r),
			UserAgent:  r.UserAgent(),
		}
		go func() {
			if err := s.Keys.RecordUsage(context.Background(), params); err != nil {
				log.Error().Err(err).Str("key_id", keyID).Msg("failed to record api key usage")
			}
		}()
	})
}

// BodyLimitMiddleware caps request body size to protect the server from
// oversized payloads before any handler or JSON decoder sees them.
func BodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
