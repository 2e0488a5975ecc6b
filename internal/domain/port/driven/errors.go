package driven

import "errors"

// Sentinel errors returned by the vault's driven adapters and services.
// Callers match them with errors.Is; adapters wrap them with operation context.
var (
	// ErrNotFound indicates no account exists with the requested name.
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateName indicates an account with the same name already exists.
	ErrDuplicateName = errors.New("account already exists")

	// ErrInvalidName indicates the account name is empty or malformed.
	ErrInvalidName = errors.New("invalid account name")

	// ErrInvalidSecret indicates a missing or unexpected secret for the account kind.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrWrongKind indicates the operation does not apply to the account's kind.
	ErrWrongKind = errors.New("operation not supported for this account kind")

	// ErrKeyUnavailable indicates the encryption key file is unreadable or corrupt.
	ErrKeyUnavailable = errors.New("encryption key unavailable")

	// ErrDecryptionFailed indicates stored ciphertext failed authentication.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNeedsLogin indicates an oauth account has no usable tokens and must be captured.
	ErrNeedsLogin = errors.New("account needs login")

	// ErrSourceFileMissing indicates the external credential file does not exist.
	ErrSourceFileMissing = errors.New("credentials file not found")

	// ErrSourceFileMalformed indicates the external credential file lacks the expected token shape.
	ErrSourceFileMalformed = errors.New("credentials file malformed")

	// ErrRefreshRejected indicates the authorization endpoint refused the refresh token.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrNetwork indicates the authorization endpoint was unreachable or timed out.
	ErrNetwork = errors.New("authorization endpoint unreachable")

	// ErrSyncFailed indicates the external credential file could not be rewritten.
	ErrSyncFailed = errors.New("credentials file sync failed")
)
