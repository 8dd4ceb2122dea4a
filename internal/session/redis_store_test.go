package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"compass/api/internal/store"
	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return rs, s
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	ctx := context.Background()
	user := store.User{
		ID:          "user-123",
		DisplayName: "Alice",
		Email:       "alice@compass.dev",
		Role:        "owner",
	}

	if err := rs.SaveRefreshSession(ctx, "hash-1", user, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	got, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.ID != user.ID || got.Role != user.Role || got.Email != user.Email {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestLookupUnknownTokenIsNotFound(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	if _, err := rs.LookupRefreshSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	ctx := context.Background()
	user := store.User{ID: "user-1", DisplayName: "Bob", Role: "portfolio"}
	if err := rs.SaveRefreshSession(ctx, "hash-2", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash-2"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
	// Revoking twice is safe.
	if err := rs.RevokeRefreshSession(ctx, "hash-2"); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
}

func TestExpiredSessionIsNotReturned(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	ctx := context.Background()
	user := store.User{ID: "user-1", DisplayName: "Bob", Role: "owner"}
	if err := rs.SaveRefreshSession(ctx, "hash-3", user, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := rs.LookupRefreshSession(ctx, "hash-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestSaveRejectsAlreadyExpired(t *testing.T) {
	rs, s := setupTestRedis(t)
	defer rs.Close()
	defer s.Close()

	user := store.User{ID: "user-1", DisplayName: "Bob", Role: "owner"}
	if err := rs.SaveRefreshSession(context.Background(), "hash-4", user, time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for already-expired token")
	}
}
