package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/feedline/internal/users"
)

func newTestCache(t *testing.T, ttl time.Duration) (*CredentialCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewCredentialCache(rdb, ttl), mr
}

func testAccount() *users.Account {
	return &users.Account{
		ID:           42,
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCredentialCacheSetGet(t *testing.T) {
	cache, mr := newTestCache(t, 300*time.Second)
	ctx := context.Background()
	want := testAccount()

	if err := cache.Set(ctx, want.Email, want); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	got, err := cache.Get(ctx, want.Email)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cache hit")
	}
	if got.ID != want.ID || got.Username != want.Username || got.Email != want.Email ||
		got.PasswordHash != want.PasswordHash || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("round-tripped account mismatch: %+v, want %+v", got, want)
	}

	if ttl := mr.TTL("cred:" + want.Email); ttl != 300*time.Second {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCredentialCacheGetMissIsNotAnError(t *testing.T) {
	cache, _ := newTestCache(t, 300*time.Second)

	got, err := cache.Get(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("cache miss must not be an error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %+v", got)
	}
}

func TestCredentialCacheGetDistinguishesOutageFromMiss(t *testing.T) {
	cache, mr := newTestCache(t, 300*time.Second)
	mr.Close()

	_, err := cache.Get(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("transport failures must surface as errors, not misses")
	}
}

func TestCredentialCacheEntryExpires(t *testing.T) {
	cache, mr := newTestCache(t, 300*time.Second)
	ctx := context.Background()
	account := testAccount()

	if err := cache.Set(ctx, account.Email, account); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	mr.FastForward(301 * time.Second)

	got, err := cache.Get(ctx, account.Email)
	if err != nil {
		t.Fatalf("Get after expiry returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("entry must expire after the TTL, got %+v", got)
	}
}

func TestCredentialCacheSetIsIdempotent(t *testing.T) {
	cache, mr := newTestCache(t, 300*time.Second)
	ctx := context.Background()
	account := testAccount()

	if err := cache.Set(ctx, account.Email, account); err != nil {
		t.Fatalf("first Set returned error: %v", err)
	}
	first, err := mr.Get("cred:" + account.Email)
	if err != nil {
		t.Fatalf("miniredis get failed: %v", err)
	}

	if err := cache.Set(ctx, account.Email, account); err != nil {
		t.Fatalf("second Set returned error: %v", err)
	}
	second, err := mr.Get("cred:" + account.Email)
	if err != nil {
		t.Fatalf("miniredis get failed: %v", err)
	}

	if first != second {
		t.Fatalf("repeated fills must be byte-identical:\n%s\n%s", first, second)
	}
	if ttl := mr.TTL("cred:" + account.Email); ttl != 300*time.Second {
		t.Fatalf("overwrite must reset the full TTL, got %v", ttl)
	}
}

func TestCredentialCacheInvalidate(t *testing.T) {
	cache, mr := newTestCache(t, 300*time.Second)
	ctx := context.Background()
	account := testAccount()

	if err := cache.Set(ctx, account.Email, account); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := cache.Invalidate(ctx, account.Email); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}
	if mr.Exists("cred:" + account.Email) {
		t.Fatal("entry must be gone after Invalidate")
	}

	// 不在キーの削除もエラーにならないこと
	if err := cache.Invalidate(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("Invalidate on an absent key returned error: %v", err)
	}
}
