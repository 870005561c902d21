package claude

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ehrlich-b/perch/internal/secrets"
	"github.com/ehrlich-b/perch/internal/store"
)

// TokenStore persists the credential record: token material encrypted, the
// timestamps plain.
type TokenStore struct {
	Store *store.Store
	Box   *secrets.Box
}

// Load assembles the record from config entries. Returns nil when no access
// token has ever been stored. A missing refreshed_at falls back to
// expires_at, which keeps old records usable.
func (ts *TokenStore) Load() (*Tokens, error) {
	encAccess, err := ts.Store.GetConfig(store.KeyOAuthToken)
	if err != nil {
		return nil, err
	}
	if encAccess == "" {
		return nil, nil
	}
	access, err := ts.Box.Decrypt(encAccess)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}

	var refresh string
	if encRefresh, err := ts.Store.GetConfig(store.KeyRefreshToken); err != nil {
		return nil, err
	} else if encRefresh != "" {
		refresh, err = ts.Box.Decrypt(encRefresh)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}

	tokens := &Tokens{AccessToken: access, RefreshToken: refresh}
	if v, err := ts.Store.GetConfig(store.KeyTokenExpiresAt); err != nil {
		return nil, err
	} else if v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			tokens.ExpiresAt = time.Unix(unix, 0)
		}
	}
	if v, err := ts.Store.GetConfig(store.KeyTokenRefreshedAt); err != nil {
		return nil, err
	} else if v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			tokens.RefreshedAt = time.Unix(unix, 0)
		}
	}
	if tokens.RefreshedAt.IsZero() {
		tokens.RefreshedAt = tokens.ExpiresAt
	}
	return tokens, nil
}

// Save encrypts and persists the record.
func (ts *TokenStore) Save(tokens *Tokens) error {
	encAccess, err := ts.Box.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if err := ts.Store.SetConfig(store.KeyOAuthToken, encAccess); err != nil {
		return err
	}

	if tokens.RefreshToken != "" {
		encRefresh, err := ts.Box.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		if err := ts.Store.SetConfig(store.KeyRefreshToken, encRefresh); err != nil {
			return err
		}
	} else {
		if err := ts.Store.DeleteConfig(store.KeyRefreshToken); err != nil {
			return err
		}
	}

	if err := ts.Store.SetConfig(store.KeyTokenExpiresAt, strconv.FormatInt(tokens.ExpiresAt.Unix(), 10)); err != nil {
		return err
	}
	return ts.Store.SetConfig(store.KeyTokenRefreshedAt, strconv.FormatInt(tokens.RefreshedAt.Unix(), 10))
}
