package billingstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/idgen"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store handles money arithmetic, balance mutation, limit checks, and
// the read-only aggregations behind the billing endpoints.
type Store struct {
	db      *pgxpool.Pool
	pricing Pricing
}

// New wraps a pool with the pricing table used by CalculateCost.
func New(db *pgxpool.Pool, pricing Pricing) *Store {
	return &Store{db: db, pricing: pricing}
}

// CalculateCost prices a token count: cost = tokens * price / 1000,
// rounded to 6 decimal digits (round-half-even).
func (s *Store) CalculateCost(inputTokens, outputTokens int) Costs {
	in := round6(float64(inputTokens) * s.pricing.InputPer1k / 1000)
	out := round6(float64(outputTokens) * s.pricing.OutputPer1k / 1000)
	return Costs{InputCost: in, OutputCost: out, TotalCost: round6(in + out)}
}

// GetOrCreateAccount lazily creates a zero-balance account for a key on
// first access.
func (s *Store) GetOrCreateAccount(ctx context.Context, keyID string) (*Account, error) {
	acct, err := s.getAccount(ctx, keyID)
	if err == nil {
		return acct, nil
	}
	ae := apperr.As(err)
	if ae.Kind != apperr.NotFound {
		return nil, err
	}

	now := idgen.NowUTC()
	acct = &Account{
		ID:        idgen.New(),
		APIKeyID:  keyID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO billing_accounts (id, api_key_id, credits_balance, total_spent, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (api_key_id) DO NOTHING
	`, acct.ID, keyID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create billing account", err)
	}
	return s.getAccount(ctx, keyID)
}

func (s *Store) getAccount(ctx context.Context, keyID string) (*Account, error) {
	var a Account
	err := s.db.QueryRow(ctx, `
		SELECT id, api_key_id, credits_balance, total_spent, daily_limit, monthly_limit, created_at, updated_at
		FROM billing_accounts WHERE api_key_id = $1
	`, keyID).Scan(&a.ID, &a.APIKeyID, &a.CreditsBalance, &a.TotalSpent, &a.DailyLimit, &a.MonthlyLimit, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "billing account not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load billing account", err)
	}
	return &a, nil
}

// RecordUsage appends a UsageRecord row.
func (s *Store) RecordUsage(ctx context.Context, r UsageRecord) error {
	if r.ID == "" {
		r.ID = idgen.New()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = idgen.NowUTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_records (id, api_key_id, session_id, workspace_id, timestamp,
			input_tokens, output_tokens, total_tokens, input_cost, output_cost, total_cost,
			model, duration_ms, status, endpoint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, r.ID, r.APIKeyID, nullableStr(r.SessionID), r.WorkspaceID, r.Timestamp,
		r.InputTokens, r.OutputTokens, r.TotalTokens, r.InputCost, r.OutputCost, r.TotalCost,
		nullableStr(r.Model), r.DurationMs, string(r.Status), r.Endpoint)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to record usage", err)
	}
	return nil
}

// DeductUsage atomically decrements balance, increments total_spent, and
// appends a paired usage_deduction Transaction, all within one serializable
// database transaction so concurrent deductions can never stamp a
// balance_after that disagrees with the real balance.
func (s *Store) DeductUsage(ctx context.Context, keyID string, cost float64, description string) (*Account, error) {
	return s.mutateBalance(ctx, keyID, -cost, TxUsageDeduction, description)
}

// UpdateBalance is the generic adjustment path used by admin credit
// corrections: positive amounts record a credit_adjustment, negative a
// usage_deduction.
func (s *Store) UpdateBalance(ctx context.Context, keyID string, amount float64, description string) (*Account, error) {
	txType := TxUsageDeduction
	if amount > 0 {
		txType = TxCreditAdjustment
	}
	return s.mutateBalance(ctx, keyID, amount, txType, description)
}

// AddCredits is UpdateBalance's admin-facing variant that records a
// credit_purchase transaction.
func (s *Store) AddCredits(ctx context.Context, keyID string, amount float64, description string) (*Account, error) {
	return s.mutateBalance(ctx, keyID, amount, TxCreditPurchase, description)
}

func (s *Store) mutateBalance(ctx context.Context, keyID string, amount float64, txType TransactionType, description string) (*Account, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	// Ensure the account exists within this transaction too (first execution
	// for a key may race GetOrCreateAccount called earlier in the request).
	now := idgen.NowUTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO billing_accounts (id, api_key_id, credits_balance, total_spent, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (api_key_id) DO NOTHING
	`, idgen.New(), keyID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to ensure billing account", err)
	}

	var a Account
	err = tx.QueryRow(ctx, `
		UPDATE billing_accounts
		SET credits_balance = credits_balance + $1,
		    total_spent = total_spent + $2,
		    updated_at = $3
		WHERE api_key_id = $4
		RETURNING id, api_key_id, credits_balance, total_spent, daily_limit, monthly_limit, created_at, updated_at
	`, amount, spendDelta(amount), now, keyID).Scan(
		&a.ID, &a.APIKeyID, &a.CreditsBalance, &a.TotalSpent, &a.DailyLimit, &a.MonthlyLimit, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to update balance", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (id, api_key_id, type, amount, balance_after, description, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, idgen.New(), keyID, string(txType), amount, a.CreditsBalance, nullableStr(description), now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to record transaction", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to commit balance update", err)
	}
	return &a, nil
}

// spendDelta returns the amount to add to total_spent: only negative
// amounts (deductions) count as spend.
func spendDelta(amount float64) float64 {
	if amount < 0 {
		return -amount
	}
	return 0
}

// SetLimits updates daily/monthly caps for a key.
func (s *Store) SetLimits(ctx context.Context, keyID string, daily, monthly *float64) error {
	_, err := s.GetOrCreateAccount(ctx, keyID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE billing_accounts SET daily_limit = $1, monthly_limit = $2, updated_at = $3 WHERE api_key_id = $4
	`, daily, monthly, idgen.NowUTC(), keyID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to set limits", err)
	}
	return nil
}

// CheckLimits reports whether the key is inside its daily and monthly
// caps. A limit counts as exceeded when cumulative cost is >= the limit,
// so the call that crosses the threshold is itself admitted and the next
// one is rejected.
func (s *Store) CheckLimits(ctx context.Context, keyID string) (*LimitCheck, error) {
	acct, err := s.GetOrCreateAccount(ctx, keyID)
	if err != nil {
		return nil, err
	}

	now := idgen.NowUTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	daily, err := s.sumDeductionsSince(ctx, keyID, dayStart)
	if err != nil {
		return nil, err
	}
	monthly, err := s.sumDeductionsSince(ctx, keyID, monthStart)
	if err != nil {
		return nil, err
	}

	lc := &LimitCheck{Within: true, DailyUsage: daily, MonthlyUsage: monthly, DailyLimit: acct.DailyLimit, MonthlyLimit: acct.MonthlyLimit}
	if acct.DailyLimit != nil && daily >= *acct.DailyLimit {
		lc.Within = false
		lc.Reason = "daily credit limit reached"
		return lc, nil
	}
	if acct.MonthlyLimit != nil && monthly >= *acct.MonthlyLimit {
		lc.Within = false
		lc.Reason = "monthly credit limit reached"
		return lc, nil
	}
	return lc, nil
}

func (s *Store) sumDeductionsSince(ctx context.Context, keyID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRow(ctx, `
		SELECT coalesce(sum(-amount), 0) FROM transactions
		WHERE api_key_id = $1 AND type = 'usage_deduction' AND timestamp >= $2
	`, keyID, since).Scan(&total)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to sum usage", err)
	}
	return total, nil
}

// GetUsageStats aggregates usage_records over an optional window.
func (s *Store) GetUsageStats(ctx context.Context, keyID string, from, to *time.Time) (*UsageStats, error) {
	q := `SELECT count(*), coalesce(sum(total_tokens),0), coalesce(sum(total_cost),0) FROM usage_records WHERE api_key_id = $1`
	args := []any{keyID}
	q, args = appendWindow(q, args, from, to)

	var st UsageStats
	if err := s.db.QueryRow(ctx, q, args...).Scan(&st.TotalRequests, &st.TotalTokens, &st.TotalCost); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to aggregate usage stats", err)
	}
	return &st, nil
}

// GetUsageRecords returns a page of usage records, newest first.
func (s *Store) GetUsageRecords(ctx context.Context, keyID string, limit, offset int) ([]UsageRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, api_key_id, coalesce(session_id,''), workspace_id, timestamp,
			input_tokens, output_tokens, total_tokens, input_cost, output_cost, total_cost,
			coalesce(model,''), duration_ms, status, endpoint
		FROM usage_records WHERE api_key_id = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3
	`, keyID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list usage records", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var status string
		if err := rows.Scan(&r.ID, &r.APIKeyID, &r.SessionID, &r.WorkspaceID, &r.Timestamp,
			&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.InputCost, &r.OutputCost, &r.TotalCost,
			&r.Model, &r.DurationMs, &status, &r.Endpoint); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan usage record", err)
		}
		r.Status = UsageStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetTransactions returns a page of transactions, newest first, optionally
// filtered by type.
func (s *Store) GetTransactions(ctx context.Context, keyID string, limit, offset int, txType *TransactionType) ([]Transaction, error) {
	q := `SELECT id, api_key_id, type, amount, balance_after, coalesce(description,''), metadata, timestamp
		FROM transactions WHERE api_key_id = $1`
	args := []any{keyID}
	if txType != nil {
		q += " AND type = $2"
		args = append(args, string(*txType))
	}
	q += " ORDER BY timestamp DESC"
	args = append(args, limit, offset)
	q += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to list transactions", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var typ string
		var meta []byte
		if err := rows.Scan(&t.ID, &t.APIKeyID, &typ, &t.Amount, &t.BalanceAfter, &t.Description, &meta, &t.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan transaction", err)
		}
		t.Type = TransactionType(typ)
		t.Metadata = fromJSONB(meta)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetUsageByWorkspace rolls usage up per workspace_id for a key.
func (s *Store) GetUsageByWorkspace(ctx context.Context, keyID string) ([]WorkspaceUsage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT workspace_id, count(*), coalesce(sum(total_tokens),0), coalesce(sum(total_cost),0)
		FROM usage_records WHERE api_key_id = $1 GROUP BY workspace_id ORDER BY workspace_id
	`, keyID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to roll up workspace usage", err)
	}
	defer rows.Close()

	var out []WorkspaceUsage
	for rows.Next() {
		var w WorkspaceUsage
		if err := rows.Scan(&w.WorkspaceID, &w.Requests, &w.TotalTokens, &w.TotalCost); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to scan workspace usage", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func appendWindow(q string, args []any, from, to *time.Time) (string, []any) {
	if from != nil {
		args = append(args, *from)
		q += " AND timestamp >= $" + strconv.Itoa(len(args))
	}
	if to != nil {
		args = append(args, *to)
		q += " AND timestamp <= $" + strconv.Itoa(len(args))
	}
	return q, args
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

