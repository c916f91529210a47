// Package trustclient is the device-side companion to the trust service:
// it keeps the issued trust token on disk, assembles the device
// fingerprint and talks to the registration and scan endpoints.
package trustclient

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// StoredToken is what lives on disk between sessions.
type StoredToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore persists the trust token in the app-scoped directory with
// owner-only permissions. Load treats an expired token as absent and
// clears it so the caller re-registers instead of presenting a token the
// server will reject anyway.
type TokenStore struct {
	path string
}

func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{path: filepath.Join(dir, "trust_token.json")}
}

func (s *TokenStore) Save(token string, expiresAt time.Time) error {
	data, err := json.Marshal(StoredToken{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Load returns the stored token, or ok=false when none is usable.
func (s *TokenStore) Load() (StoredToken, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, err
	}
	var stored StoredToken
	if err := json.Unmarshal(data, &stored); err != nil {
		// Corrupt file: drop it and start over.
		_ = s.Clear()
		return StoredToken{}, false, nil
	}
	if !stored.ExpiresAt.IsZero() && time.Now().After(stored.ExpiresAt) {
		_ = s.Clear()
		return StoredToken{}, false, nil
	}
	return stored, true, nil
}

func (s *TokenStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
