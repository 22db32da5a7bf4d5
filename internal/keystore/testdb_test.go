package keystore

import (
	"context"
	"os"
	"testing"

	"github.com/agentctl/agentctl/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB connects to TEST_DATABASE_URL and truncates the key tables,
// or skips the test entirely when no test database is configured.
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
