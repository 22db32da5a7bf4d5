package httpapi

import (
	"net/http"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/billingstore"
	"github.com/go-chi/chi/v5"
)

func parseTimeParam(q string) *time.Time {
	if q == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, q)
	if err != nil {
		return nil
	}
	return &t
}

// BillingAccount serves GET /billing/account for the caller's own key.
func (s *Server) BillingAccount(w http.ResponseWriter, r *http.Request) {
	keyID := APIKeyID(r.Context())
	acct, err := s.Billing.GetOrCreateAccount(r.Context(), keyID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// BillingStats serves GET /billing/stats?from&to for the caller's own key.
func (s *Server) BillingStats(w http.ResponseWriter, r *http.Request) {
	keyID := APIKeyID(r.Context())
	from := parseTimeParam(r.URL.Query().Get("from"))
	to := parseTimeParam(r.URL.Query().Get("to"))

	stats, err := s.Billing.GetUsageStats(r.Context(), keyID, from, to)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// BillingUsage serves GET /billing/usage?limit&offset for the caller's own key.
func (s *Server) BillingUsage(w http.ResponseWriter, r *http.Request) {
	keyID := APIKeyID(r.Context())
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	offset, _ := parseOffset(r.URL.Query().Get("offset"))

	records, err := s.Billing.GetUsageRecords(r.Context(), keyID, limit, offset)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "limit": limit, "offset": offset})
}

// BillingTransactions serves GET /billing/transactions?limit&offset&type?
// for the caller's own key.
func (s *Server) BillingTransactions(w http.ResponseWriter, r *http.Request) {
	keyID := APIKeyID(r.Context())
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	offset, _ := parseOffset(r.URL.Query().Get("offset"))

	var txType *billingstore.TransactionType
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := billingstore.TransactionType(raw)
		txType = &t
	}

	records, err := s.Billing.GetTransactions(r.Context(), keyID, limit, offset, txType)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": records, "limit": limit, "offset": offset})
}

// BillingWorkspaces serves GET /billing/workspaces, a per-workspace
// usage roll-up for the caller's own key.
func (s *Server) BillingWorkspaces(w http.ResponseWriter, r *http.Request) {
	keyID := APIKeyID(r.Context())
	usage, err := s.Billing.GetUsageByWorkspace(r.Context(), keyID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": usage})
}

type addCreditsRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
}

// AdminAddCredits serves POST /billing/admin/:key_id/credits.
func (s *Server) AdminAddCredits(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	var req addCreditsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if req.Amount == 0 {
		writeAppError(w, r, apperr.New(apperr.Validation, "amount must be non-zero"))
		return
	}

	var acct *billingstore.Account
	var err error
	if req.Amount > 0 {
		acct, err = s.Billing.AddCredits(r.Context(), keyID, req.Amount, req.Description)
	} else {
		acct, err = s.Billing.UpdateBalance(r.Context(), keyID, req.Amount, req.Description)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type setLimitsRequest struct {
	DailyLimit   *float64 `json:"daily_limit,omitempty"`
	MonthlyLimit *float64 `json:"monthly_limit,omitempty"`
}

// AdminSetLimits serves POST /billing/admin/:key_id/limits.
func (s *Server) AdminSetLimits(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	var req setLimitsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := s.Billing.SetLimits(r.Context(), keyID, req.DailyLimit, req.MonthlyLimit); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key_id": keyID, "daily_limit": req.DailyLimit, "monthly_limit": req.MonthlyLimit})
}

// AdminBillingStats serves GET /billing/admin/:key_id/stats.
func (s *Server) AdminBillingStats(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	stats, err := s.Billing.GetUsageStats(r.Context(), keyID, nil, nil)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
