package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Account is the metadata of one named credential record. The encrypted secret
// never leaves the store; Captured only reports whether one is present.
type Account struct {
	ID         string
	Name       string
	Kind       Kind
	Captured   bool
	NeedsLogin bool
	ExpiresAt  time.Time // zero when the record has no expiry
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt *time.Time
}

// HasExpiry returns true when the account carries an access token expiry.
func (a *Account) HasExpiry() bool {
	return !a.ExpiresAt.IsZero()
}

// StatusAt derives the account status at the given instant. An expiry equal to
// now counts as expired. lead is the window before expiry reported as
// StatusExpiringSoon.
func (a *Account) StatusAt(now time.Time, lead time.Duration) Status {
	if !a.Captured {
		return StatusNeedsLogin
	}
	if a.Kind == KindAPIKey {
		return StatusValid
	}
	if a.NeedsLogin {
		return StatusNeedsLogin
	}
	if !a.HasExpiry() {
		return StatusValid
	}
	if !now.Before(a.ExpiresAt) {
		return StatusExpired
	}
	if a.ExpiresAt.Sub(now) <= lead {
		return StatusExpiringSoon
	}
	return StatusValid
}

// AccountSummary is the masked view returned by list and status operations.
type AccountSummary struct {
	Name         string
	Kind         Kind
	Status       Status
	ExpiresAt    time.Time
	ExpiresIn    time.Duration // zero when there is no expiry or it already passed
	HasRefresh   bool
	CreatedAt    time.Time
	LastUsedAt   *time.Time
	CredentialID string // masked preview such as "sk-ant-...a1b2c3"
}

// OAuthTokens is the plaintext secret of an oauth account.
type OAuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Encode serializes the token pair for encryption.
func (t OAuthTokens) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode oauth tokens: %w", err)
	}
	return string(data), nil
}

// DecodeOAuthTokens parses a decrypted oauth secret.
func DecodeOAuthTokens(secret string) (OAuthTokens, error) {
	var t OAuthTokens
	if err := json.Unmarshal([]byte(secret), &t); err != nil {
		return OAuthTokens{}, fmt.Errorf("decode oauth tokens: %w", err)
	}
	return t, nil
}

// TokenGrant is a freshly issued token pair with its expiry.
type TokenGrant struct {
	Tokens    OAuthTokens
	ExpiresAt time.Time
}

// ExportRecord is the unmasked, portable form of an account used by export
// and import. Field names match the JSON written by earlier versions of the tool.
type ExportRecord struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"auth_type"`
	APIKey       string `json:"api_key,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // epoch milliseconds
}

// LaunchEnv maps environment variable names to values for the launched process.
// Values are plaintext secrets and must not be logged or written to disk.
type LaunchEnv map[string]string

// Keys returns the sorted variable names without their values.
func (e LaunchEnv) Keys() []string {
	return slices.Sorted(maps.Keys(e))
}
