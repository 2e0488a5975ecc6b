package model

import "time"

// ExternalCredentials is the session currently stored in the external tool's
// own credential file.
type ExternalCredentials struct {
	Tokens    OAuthTokens
	ExpiresAt time.Time
}

// BelongsTo reports whether the external session holds either token of t.
func (c *ExternalCredentials) BelongsTo(t OAuthTokens) bool {
	if c.Tokens.AccessToken != "" && c.Tokens.AccessToken == t.AccessToken {
		return true
	}
	return c.Tokens.RefreshToken != "" && c.Tokens.RefreshToken == t.RefreshToken
}
