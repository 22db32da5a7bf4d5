// Package billingstore persists accounts, usage records, and transactions:
// cost calculation, balance mutation, limit checks, and the aggregation
// queries the billing endpoints expose.
package billingstore

import "time"

// TransactionType enumerates the audited balance-change categories.
type TransactionType string

const (
	TxCreditPurchase   TransactionType = "credit_purchase"
	TxUsageDeduction   TransactionType = "usage_deduction"
	TxCreditAdjustment TransactionType = "credit_adjustment"
	TxRefund           TransactionType = "refund"
)

// UsageStatus enumerates UsageRecord.status values.
type UsageStatus string

const (
	StatusSuccess UsageStatus = "success"
	StatusError   UsageStatus = "error"
)

// Account is a BillingAccount row, 1:1 with an ApiKey.
type Account struct {
	ID             string
	APIKeyID       string
	CreditsBalance float64
	TotalSpent     float64
	DailyLimit     *float64
	MonthlyLimit   *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Costs is the result of calculating price for a token count.
type Costs struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
}

// Pricing is the per-1k-token price table.
type Pricing struct {
	InputPer1k  float64
	OutputPer1k float64
}

// UsageRecord is one row per executed task for a standard key.
type UsageRecord struct {
	ID           string
	APIKeyID     string
	SessionID    string
	WorkspaceID  string
	Timestamp    time.Time
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	InputCost    float64
	OutputCost   float64
	TotalCost    float64
	Model        string
	DurationMs   int
	Status       UsageStatus
	Endpoint     string
}

// Transaction audits a single balance change.
type Transaction struct {
	ID           string
	APIKeyID     string
	Type         TransactionType
	Amount       float64
	BalanceAfter float64
	Description  string
	Metadata     map[string]any
	Timestamp    time.Time
}

// LimitCheck is the result of check_limits.
type LimitCheck struct {
	Within       bool
	DailyUsage   float64
	MonthlyUsage float64
	DailyLimit   *float64
	MonthlyLimit *float64
	Reason       string
}

// UsageStats summarizes usage over a window for the Billing API.
type UsageStats struct {
	TotalRequests int
	TotalTokens   int
	TotalCost     float64
}

// WorkspaceUsage is one row of the per-workspace roll-up.
type WorkspaceUsage struct {
	WorkspaceID string
	Requests    int
	TotalTokens int
	TotalCost   float64
}
