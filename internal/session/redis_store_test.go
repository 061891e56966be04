package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"quill/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })
	return sessions, mr
}

func TestNewRedisStore(t *testing.T) {
	sessions, _ := setupTestRedis(t)
	if err := sessions.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected NewRedisStore() to fail for malformed url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	sessions, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.SaveRefreshSession(ctx, "hash-1", "usr_1", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	userID, err := sessions.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if userID != "usr_1" {
		t.Fatalf("LookupRefreshSession() = %q, want usr_1", userID)
	}
	if !mr.Exists("quill:refresh:hash-1") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := mr.TTL("quill:refresh:hash-1"); ttl <= 0 {
		t.Fatalf("TTL = %v, want positive", ttl)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	sessions, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.SaveRefreshSession(ctx, "short", "usr_1", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := sessions.LookupRefreshSession(ctx, "short"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LookupRefreshSession() error = %v, want ErrNotFound", err)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	sessions, _ := setupTestRedis(t)
	if err := sessions.SaveRefreshSession(context.Background(), "old", "usr_1", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected SaveRefreshSession() to fail for past expiry")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	sessions, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.SaveRefreshSession(ctx, "hash-1", "usr_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	if err := sessions.SaveRefreshSession(ctx, "hash-2", "usr_2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	if err := sessions.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if err := sessions.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Fatalf("RevokeRefreshSession(missing) error = %v", err)
	}

	if _, err := sessions.LookupRefreshSession(ctx, "hash-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LookupRefreshSession(revoked) error = %v, want ErrNotFound", err)
	}
	userID, err := sessions.LookupRefreshSession(ctx, "hash-2")
	if err != nil || userID != "usr_2" {
		t.Fatalf("LookupRefreshSession(hash-2) = %q, %v", userID, err)
	}
}
