package billingstore

import (
	"context"
	"os"
	"testing"

	"github.com/agentctl/agentctl/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	pool, err := db.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := db.Migrate(url); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	_, err = pool.Exec(context.Background(), "TRUNCATE transactions, usage_records, api_key_usage, billing_accounts, api_keys CASCADE")
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	return pool
}

func seedKey(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "00000000-0000-0000-0000-000000000001"
	_, err := pool.Exec(context.Background(), `
		INSERT INTO api_keys (id, key_hash, key_prefix, key_type, name, is_active, permissions)
		VALUES ($1, 'hash', 'tb_', 'standard', 'seed', true, ARRAY['execute','read','write'])
		ON CONFLICT (id) DO NOTHING
	`, id)
	if err != nil {
		t.Fatalf("failed to seed key: %v", err)
	}
	return id
}
