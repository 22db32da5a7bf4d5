package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractCredentialPreferenceOrder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/billing/account?api_key=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-bearer")
	req.Header.Set("X-API-Key", "from-header")
	if got := extractCredential(req); got != "from-bearer" {
		t.Errorf("credential = %q, want the Bearer token to win", got)
	}

	req.Header.Del("Authorization")
	if got := extractCredential(req); got != "from-header" {
		t.Errorf("credential = %q, want X-API-Key second", got)
	}

	req.Header.Del("X-API-Key")
	if got := extractCredential(req); got != "from-query" {
		t.Errorf("credential = %q, want the query param last", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/billing/account", nil)
	if got := extractCredential(bare); got != "" {
		t.Errorf("credential = %q, want empty for a bare request", got)
	}
}

func TestExtractCredentialIgnoresNonBearerAuthorization(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := extractCredential(req); got != "" {
		t.Errorf("credential = %q, want empty for a non-Bearer scheme", got)
	}
}

func TestAdminMiddleware(t *testing.T) {
	handler := AdminMiddleware("topsecret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	missing := httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, missing)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing admin key: status %d, want 401", rec.Code)
	}

	wrong := httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	wrong.Header.Set("X-Admin-Key", "guess")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, wrong)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong admin key: status %d, want 401", rec.Code)
	}

	ok := httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	ok.Header.Set("X-Admin-Key", "topsecret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, ok)
	if rec.Code != http.StatusOK {
		t.Errorf("correct admin key: status %d, want 200", rec.Code)
	}
}

func TestInAllowlist(t *testing.T) {
	list := []string{"legacy-key-1", "legacy-key-2"}
	if !inAllowlist(list, "legacy-key-2") {
		t.Error("expected a listed key to match")
	}
	if inAllowlist(list, "legacy-key-3") {
		t.Error("expected an unlisted key to miss")
	}
	if inAllowlist(nil, "anything") {
		t.Error("expected an empty allowlist to miss everything")
	}
}
