package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/idgen"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultKeyPrefix is used when CreateParams.Prefix is empty.
const DefaultKeyPrefix = "tb_"

// Store manages API key lifecycle and per-request usage audit rows.
type Store struct {
	db *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Create generates a new key, persists the hash, and returns the record with
// Plaintext populated. The plaintext is never stored and never recoverable
// again after this call returns.
func (s *Store) Create(ctx context.Context, p CreateParams) (*ApiKey, error) {
	prefix := p.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	plaintext, err := idgen.KeyPlaintext(prefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to generate key", err)
	}

	perms := p.Permissions
	if len(perms) == 0 {
		perms = DefaultPermissions
	}

	keyType := p.KeyType
	if keyType == "" {
		keyType = KeyTypeStandard
	}

	var expiresAt *time.Time
	if p.ExpiresInDays != nil {
		t := idgen.NowUTC().AddDate(0, 0, *p.ExpiresInDays)
		expiresAt = &t
	}

	k := &ApiKey{
		ID:          idgen.New(),
		KeyHash:     idgen.SHA256Hex(plaintext),
		KeyPrefix:   plaintext[:min(len(plaintext), 8)],
		KeyType:     keyType,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   idgen.NowUTC(),
		ExpiresAt:   expiresAt,
		IsActive:    true,
		Permissions: perms,
		Metadata:    p.Metadata,
		Plaintext:   plaintext,
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, key_prefix, key_type, name, description,
			created_at, expires_at, is_active, permissions, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, k.ID, k.KeyHash, k.KeyPrefix, string(k.KeyType), k.Name, nullableStr(k.Description),
		k.CreatedAt, k.ExpiresAt, k.IsActive, k.Permissions, toJSONB(k.Metadata))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create key", err)
	}
	return k, nil
}

// FindByPlaintext hashes key and looks it up; it returns NotFound unless
// the row is active — revoked keys still exist for admin lookups but must
// never authenticate.
func (s *Store) FindByPlaintext(ctx context.Context, plaintext string) (*ApiKey, error) {
	hash := idgen.SHA256Hex(plaintext)
	row := s.db.QueryRow(ctx, selectKeyCols+` WHERE key_hash = $1 AND is_active = true`, hash)
	return scanKey(row)
}

// Get returns a key by id regardless of active state.
func (s *Store) Get(ctx context.Context, id string) (*ApiKey, error) {
	row := s.db.QueryRow(ctx, selectKeyCols+` WHERE id = $1`, id)
	return scanKey(row)
}

// List returns keys ordered newest-first, honoring include_inactive.
func (s *Store) List(ctx context.Context, limit, offset int, includeInactive bool) ([]*ApiKey, int, error) {
	where := ""
	if !includeInactive {
		where = "WHERE is_active = true"
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM api_keys "+where).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "failed to count keys", err)
	}

	rows, err := s.db.Query(ctx, selectKeyCols+" "+where+" ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "failed to list keys", err)
	}
	defer rows.Close()

	var out []*ApiKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, k)
	}
	return out, total, rows.Err()
}

// Update patches mutable fields of a key.
func (s *Store) Update(ctx context.Context, id string, p UpdateParams) (*ApiKey, error) {
	k, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		k.Name = *p.Name
	}
	if p.Description != nil {
		k.Description = *p.Description
	}
	if p.Permissions != nil {
		k.Permissions = p.Permissions
	}
	if p.Metadata != nil {
		k.Metadata = p.Metadata
	}

	_, err = s.db.Exec(ctx, `
		UPDATE api_keys SET name = $1, description = $2, permissions = $3, metadata = $4
		WHERE id = $5
	`, k.Name, nullableStr(k.Description), k.Permissions, toJSONB(k.Metadata), id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to update key", err)
	}
	return k, nil
}

// TouchLastUsed stamps last_used_at to now.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, idgen.NowUTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to touch last_used_at", err)
	}
	return nil
}

// Revoke soft-deletes a key by flipping is_active off.
func (s *Store) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to revoke key", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "key not found")
	}
	return nil
}

// Delete hard-deletes a key; cascades remove its usage rows, billing
// account, transactions, and usage records.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete key", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "key not found")
	}
	return nil
}

// RecordUsage appends an audit row; failures here must never block a
// request, so callers typically fire this in a goroutine and log failures.
func (s *Store) RecordUsage(ctx context.Context, p RecordUsageParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_key_usage (id, key_id, endpoint, method, status_code, timestamp, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, idgen.New(), p.KeyID, p.Endpoint, p.Method, p.StatusCode, idgen.NowUTC(), nullableStr(p.IP), nullableStr(p.UserAgent))
	return err
}

// GetUsageSummary aggregates request count and success rate for a key,
// optionally bounded by since.
func (s *Store) GetUsageSummary(ctx context.Context, keyID string, since *time.Time) (*UsageSummary, error) {
	q := `SELECT count(*), count(*) FILTER (WHERE status_code < 400), max(timestamp) FROM api_key_usage WHERE key_id = $1`
	args := []any{keyID}
	if since != nil {
		q += " AND timestamp >= $2"
		args = append(args, *since)
	}

	var total, success int
	var lastUsed *time.Time
	if err := s.db.QueryRow(ctx, q, args...).Scan(&total, &success, &lastUsed); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to summarize usage", err)
	}

	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}
	return &UsageSummary{TotalRequests: total, SuccessRate: rate, LastUsed: lastUsed}, nil
}

const selectKeyCols = `
	SELECT id, key_hash, key_prefix, key_type, name, coalesce(description, ''),
		created_at, last_used_at, expires_at, is_active, permissions, metadata
	FROM api_keys`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*ApiKey, error) {
	var k ApiKey
	var keyType string
	var meta []byte
	err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &keyType, &k.Name, &k.Description,
		&k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt, &k.IsActive, &k.Permissions, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "key not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to read key", err)
	}
	k.KeyType = KeyType(keyType)
	k.Metadata = fromJSONB(meta)
	return &k, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
