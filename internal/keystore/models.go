// Package keystore persists API keys and their per-request usage audit
// rows, backed by Postgres through pgx with raw SQL throughout. Only the
// SHA-256 hash of a key's plaintext is ever stored.
package keystore

import "time"

// KeyType distinguishes priced, budgeted keys from operational keys that
// bypass billing entirely.
type KeyType string

const (
	KeyTypeStandard KeyType = "standard"
	KeyTypeInternal KeyType = "internal"
)

// DefaultPermissions is the permission set a key receives unless the caller
// overrides it at creation time.
var DefaultPermissions = []string{"execute", "read", "write"}

// ApiKey is the persisted credential record. Plaintext is only ever
// populated by Create, never read back from storage.
type ApiKey struct {
	ID          string
	KeyHash     string
	KeyPrefix   string
	KeyType     KeyType
	Name        string
	Description string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	ExpiresAt   *time.Time
	IsActive    bool
	Permissions []string
	Metadata    map[string]any

	// Plaintext is set only on Create's return value.
	Plaintext string `json:"-"`
}

// IsUsable reports whether the key may authenticate a request right now:
// active, and either non-expiring or not yet expired.
func (k *ApiKey) IsUsable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// ApiKeyUsage is one per-request audit row.
type ApiKeyUsage struct {
	ID         string
	KeyID      string
	Endpoint   string
	Method     string
	StatusCode int
	Timestamp  time.Time
	IP         string
	UserAgent  string
}

// UsageSummary aggregates ApiKeyUsage rows for a key.
type UsageSummary struct {
	TotalRequests int
	SuccessRate   float64
	LastUsed      *time.Time
}

// CreateParams are the inputs to Store.Create.
type CreateParams struct {
	Name          string
	Description   string
	KeyType       KeyType
	Prefix        string
	ExpiresInDays *int
	Permissions   []string
	Metadata      map[string]any
}

// UpdateParams are the mutable fields of Store.Update.
type UpdateParams struct {
	Name        *string
	Description *string
	Permissions []string
	Metadata    map[string]any
}

// RecordUsageParams are the inputs to Store.RecordUsage.
type RecordUsageParams struct {
	KeyID      string
	Endpoint   string
	Method     string
	StatusCode int
	IP         string
	UserAgent  string
}
