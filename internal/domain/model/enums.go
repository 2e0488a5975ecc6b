package model

// Kind identifies how an account authenticates against the external tool.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindOAuth  Kind = "oauth"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	return k == KindAPIKey || k == KindOAuth
}

// Status is the derived usability state of an account.
type Status string

const (
	StatusValid        Status = "valid"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
	StatusNeedsLogin   Status = "needs_login"
)

// Environment variable names injected into the launched process.
const (
	EnvAPIKey     = "ANTHROPIC_API_KEY"
	EnvOAuthToken = "CLAUDE_CODE_OAUTH_TOKEN"
)
