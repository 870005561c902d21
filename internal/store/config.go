package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Known config keys. Token values are stored as ciphertext; the rest are
// plain UTF-8.
const (
	KeySetupComplete    = "setup_complete"
	KeyOAuthToken       = "claude_oauth_token"
	KeyRefreshToken     = "claude_refresh_token"
	KeyTokenExpiresAt   = "claude_token_expires_at"
	KeyTokenRefreshedAt = "claude_token_refreshed_at"
	KeyPendingState     = "oauth_pending_state"
	KeyPendingVerifier  = "oauth_pending_verifier"
	KeyVaultLastPush    = "vault_last_push"
)

// GetConfig returns the value for key, or "" when the key does not exist.
func (s *Store) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}

// SetConfig upserts a config entry.
func (s *Store) SetConfig(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// DeleteConfig removes a config entry. Missing keys are not an error.
func (s *Store) DeleteConfig(key string) error {
	if _, err := s.db.Exec("DELETE FROM config WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete config %s: %w", key, err)
	}
	return nil
}
