package claude

import (
	"strconv"
	"testing"
	"time"

	"github.com/ehrlich-b/perch/internal/secrets"
	"github.com/ehrlich-b/perch/internal/store"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestTokenStore(t *testing.T) *TokenStore {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	box, err := secrets.New(testKey)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return &TokenStore{Store: st, Box: box}
}

func TestLoadEmpty(t *testing.T) {
	ts := newTestTokenStore(t)
	tokens, err := ts.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tokens != nil {
		t.Fatalf("expected nil, got %+v", tokens)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ts := newTestTokenStore(t)
	now := time.Now().Truncate(time.Second)
	in := &Tokens{
		AccessToken:  "at-secret",
		RefreshToken: "rt-secret",
		ExpiresAt:    now.Add(time.Hour),
		RefreshedAt:  now,
	}
	if err := ts.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := ts.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessToken != in.AccessToken || out.RefreshToken != in.RefreshToken {
		t.Errorf("tokens = %+v, want %+v", out, in)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) || !out.RefreshedAt.Equal(in.RefreshedAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", out.ExpiresAt, out.RefreshedAt, in.ExpiresAt, in.RefreshedAt)
	}
}

func TestSaveWithoutRefreshTokenClearsOld(t *testing.T) {
	ts := newTestTokenStore(t)
	now := time.Now()
	if err := ts.Save(&Tokens{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: now, RefreshedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Save(&Tokens{AccessToken: "a2", ExpiresAt: now, RefreshedAt: now}); err != nil {
		t.Fatal(err)
	}

	out, err := ts.Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.RefreshToken != "" {
		t.Errorf("refresh token = %q, want empty", out.RefreshToken)
	}
}

func TestTokensEncryptedAtRest(t *testing.T) {
	ts := newTestTokenStore(t)
	now := time.Now()
	if err := ts.Save(&Tokens{AccessToken: "plaintext-token", ExpiresAt: now, RefreshedAt: now}); err != nil {
		t.Fatal(err)
	}
	raw, err := ts.Store.GetConfig(store.KeyOAuthToken)
	if err != nil {
		t.Fatal(err)
	}
	if raw == "plaintext-token" || raw == "" {
		t.Errorf("stored value is not ciphertext: %q", raw)
	}
}

func TestLoadFallsBackRefreshedAt(t *testing.T) {
	ts := newTestTokenStore(t)
	enc, err := ts.Box.Encrypt("at")
	if err != nil {
		t.Fatal(err)
	}
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	ts.Store.SetConfig(store.KeyOAuthToken, enc)
	ts.Store.SetConfig(store.KeyTokenExpiresAt, strconv.FormatInt(expires.Unix(), 10))
	// No refreshed_at persisted.

	out, err := ts.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !out.RefreshedAt.Equal(expires) {
		t.Errorf("refreshed_at = %v, want fallback to expires_at %v", out.RefreshedAt, expires)
	}
}
