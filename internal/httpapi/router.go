package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/billingstore"
	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/engine"
	"github.com/agentctl/agentctl/internal/keystore"
	"github.com/agentctl/agentctl/internal/metrics"
	"github.com/agentctl/agentctl/internal/sessionaudit"
	"github.com/agentctl/agentctl/internal/threadcache"
	"github.com/agentctl/agentctl/internal/workspace"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Server holds every dependency the HTTP handlers need, wired once by the
// composition root in cmd/server.
type Server struct {
	Cfg     *config.Config
	DB      *pgxpool.Pool
	Keys    *keystore.Store
	Billing *billingstore.Store
	Cache   *threadcache.Cache
	WS      *workspace.Manager
	Engine  engine.Adapter
	Metrics *metrics.Metrics
	History *metrics.History
	Audit   *sessionaudit.Store

	// engineThrottle bounds the rate at which new Engine calls are
	// dispatched server-wide, independent of the per-IP admission
	// limiters below — it protects the external Engine, not the API.
	engineThrottle *rate.Limiter
}

// Routes builds the chi router. Middleware order matters: CORS and body
// limits run before audit logging and rate limiting, authentication
// before the budget check, and the budget check only guards /execute.
func (s *Server) Routes() http.Handler {
	if s.engineThrottle == nil {
		s.engineThrottle = rate.NewLimiter(rate.Limit(10), 20)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{s.Cfg.CORSOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", "X-Admin-Key"},
	}).Handler)

	globalLimit := RateLimitInfo{
		WindowSeconds: int(s.Cfg.GlobalRateLimit.Window.Seconds()),
		MaxRequests:   s.Cfg.GlobalRateLimit.Max,
		Burst:         s.Cfg.GlobalRateLimit.Max,
	}
	executeLimit := RateLimitInfo{
		WindowSeconds: int(s.Cfg.ExecuteRateLimit.Window.Seconds()),
		MaxRequests:   s.Cfg.ExecuteRateLimit.Max,
		Burst:         s.Cfg.ExecuteRateLimit.Max,
	}

	r.Use(func(next http.Handler) http.Handler {
		jsonLimited := BodyLimitMiddleware(s.Cfg.MaxBodyBytes)(next)
		uploadLimited := BodyLimitMiddleware(s.Cfg.MaxUploadBytes)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/") {
				uploadLimited.ServeHTTP(w, req)
				return
			}
			jsonLimited.ServeHTTP(w, req)
		})
	})
	r.Use(auditLogMiddleware)
	r.Use(RateLimitMiddleware(globalLimit))

	// Unauthenticated.
	r.Get("/health", s.Health)
	metricsHandler := promhttp.Handler()
	r.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.Metrics.RefreshUptime()
		metricsHandler.ServeHTTP(w, req)
	}))
	r.Get("/metrics/history", s.MetricsHistory)

	authCfg := AuthConfig{LegacyAllowlist: s.Cfg.LegacyAllowlist, AllowOpenMode: s.Cfg.AllowOpenMode}

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(executeLimit))
		r.Use(AuthMiddleware(s.Keys, authCfg))
		r.Use(s.recordUsageMiddleware)
		r.Use(s.validateExecuteMiddleware)
		r.Use(s.budgetCheckMiddleware)
		r.Post("/execute", s.Execute)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.Keys, authCfg))
		r.Use(s.recordUsageMiddleware)

		r.Post("/cache/clear", s.CacheClear)

		r.Get("/workspace/{id}/files", s.WorkspaceListFiles)
		r.Post("/workspace/{id}/upload", s.WorkspaceUpload)
		r.Get("/workspace/{id}/download/*", s.WorkspaceDownload)
		r.Delete("/workspace/{id}/files/*", s.WorkspaceDeleteFile)

		r.Get("/sessions", s.ListSessions)
		r.Get("/sessions/active/list", s.ListActiveSessions)
		r.Get("/sessions/{id}", s.GetSession)
		r.Delete("/sessions/{id}", s.DeleteSession)

		r.Get("/workspaces", s.ListWorkspaces)
		r.Delete("/workspaces/{id}", s.DeleteWorkspace)

		r.Post("/cleanup/sessions", s.CleanupSessions)
		r.Post("/cleanup/workspaces", s.CleanupWorkspaces)

		r.Get("/billing/account", s.BillingAccount)
		r.Get("/billing/stats", s.BillingStats)
		r.Get("/billing/usage", s.BillingUsage)
		r.Get("/billing/transactions", s.BillingTransactions)
		r.Get("/billing/workspaces", s.BillingWorkspaces)
	})

	r.Group(func(r chi.Router) {
		r.Use(AdminMiddleware(s.Cfg.AdminCredential))

		r.Post("/admin/keys", s.AdminCreateKey)
		r.Get("/admin/keys", s.AdminListKeys)
		r.Get("/admin/keys/{id}", s.AdminGetKey)
		r.Patch("/admin/keys/{id}", s.AdminUpdateKey)
		r.Post("/admin/keys/{id}/revoke", s.AdminRevokeKey)
		r.Delete("/admin/keys/{id}", s.AdminDeleteKey)
		r.Get("/admin/keys/{id}/usage", s.AdminKeyUsage)

		r.Post("/billing/admin/{key_id}/credits", s.AdminAddCredits)
		r.Post("/billing/admin/{key_id}/limits", s.AdminSetLimits)
		r.Get("/billing/admin/{key_id}/stats", s.AdminBillingStats)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

// auditLogMiddleware records (timestamp, method, path, ip, ua) on entry
// and (status, duration) on exit.
func auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", clientKey(r)).
			Str("ua", r.UserAgent()).
			Msg("request received")

		next.ServeHTTP(ww, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorResponse is the standardized error body, carrying the correlation
// id and a machine-readable error kind.
type errorResponse struct {
	Error         string         `json:"error"`
	Kind          string         `json:"kind,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message, CorrelationID: GetCorrelationID(r.Context())})
}

// writeAppError is the error mapper: it converts a typed apperr.Error (or
// any other error, treated as Internal) into an HTTP response, never
// leaking stack traces, SQL fragments, or credentials.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	writeJSON(w, apperr.HTTPStatus(appErr.Kind), errorResponse{
		Error:         appErr.Message,
		Kind:          string(appErr.Kind),
		Data:          appErr.Data,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// parseLimit parses a limit query param with default and max.
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
