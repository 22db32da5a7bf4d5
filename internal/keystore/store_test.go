package keystore

import (
	"context"
	"testing"

	"github.com/agentctl/agentctl/internal/apperr"
)

func TestCreateAndFindByPlaintext(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	pool := getTestDB(t)
	defer pool.Close()

	s := New(pool)
	ctx := context.Background()

	created, err := s.Create(ctx, CreateParams{Name: "ci", KeyType: KeyTypeStandard})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Plaintext == "" {
		t.Fatal("expected plaintext on create")
	}

	found, err := s.FindByPlaintext(ctx, created.Plaintext)
	if err != nil {
		t.Fatalf("FindByPlaintext: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected id %s, got %s", created.ID, found.ID)
	}

	if err := s.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	_, err = s.FindByPlaintext(ctx, created.Plaintext)
	ae := apperr.As(err)
	if ae.Kind != apperr.NotFound {
		t.Fatalf("expected NotFound after revoke, got %v", err)
	}
}

func TestCreatePlaintextUnrecoverable(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	pool := getTestDB(t)
	defer pool.Close()

	s := New(pool)
	ctx := context.Background()

	created, err := s.Create(ctx, CreateParams{Name: "no-plaintext-after", KeyType: KeyTypeStandard})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fetched, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.Plaintext != "" {
		t.Fatal("Get must never return plaintext")
	}
}

func TestListIncludeInactive(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	pool := getTestDB(t)
	defer pool.Close()

	s := New(pool)
	ctx := context.Background()

	k1, _ := s.Create(ctx, CreateParams{Name: "active", KeyType: KeyTypeStandard})
	k2, _ := s.Create(ctx, CreateParams{Name: "inactive", KeyType: KeyTypeStandard})
	if err := s.Revoke(ctx, k2.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	active, total, err := s.List(ctx, 10, 0, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(active) != 1 || active[0].ID != k1.ID {
		t.Fatalf("expected 1 active key, got total=%d len=%d", total, len(active))
	}

	all, total2, err := s.List(ctx, 10, 0, true)
	if err != nil {
		t.Fatalf("List include_inactive: %v", err)
	}
	if total2 != 2 || len(all) != 2 {
		t.Fatalf("expected 2 keys including inactive, got total=%d len=%d", total2, len(all))
	}
}
