// Package credfile reads and atomically rewrites the external tool's
// credential file (~/.claude/.credentials.json).
package credfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

// sessionKey is the top-level entry holding the external tool's OAuth session.
const sessionKey = "claudeAiOauth"

// Compile-time interface satisfaction check.
var _ driven.CredentialFile = (*File)(nil)

// File is the CredentialFile adapter. Unknown keys, both top-level and inside
// the session entry, are preserved on rewrite.
type File struct {
	path   string
	logger *slog.Logger

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// New creates a File adapter for the credential file at path.
func New(path string, logger *slog.Logger) *File {
	return &File{path: path, logger: logger}
}

// Path returns the location of the credential file.
func (f *File) Path() string {
	return f.path
}

// Read parses the current session. An absent file yields
// driven.ErrSourceFileMissing; invalid JSON or a session without an access
// token yields driven.ErrSourceFileMalformed.
func (f *File) Read(_ context.Context) (*model.ExternalCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("read %s: %w", f.path, driven.ErrSourceFileMissing)
	}

	raw, ok := doc[sessionKey]
	if !ok {
		return nil, fmt.Errorf("read %s: no %s entry: %w", f.path, sessionKey, driven.ErrSourceFileMalformed)
	}

	var s session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("read %s: decode %s: %v: %w", f.path, sessionKey, err, driven.ErrSourceFileMalformed)
	}
	if s.AccessToken == "" {
		return nil, fmt.Errorf("read %s: no accessToken: %w", f.path, driven.ErrSourceFileMalformed)
	}

	return &model.ExternalCredentials{
		Tokens: model.OAuthTokens{
			AccessToken:  s.AccessToken,
			RefreshToken: s.RefreshToken,
		},
		ExpiresAt: fromMillis(s.ExpiresAt),
	}, nil
}

// Sync rewrites the session entry with next when the file currently holds the
// account identified by previous, or when the file does not exist yet. It
// returns false without writing when another account's session is in the
// file. The write goes to a temporary file in the same directory which is then
// renamed over the original, so concurrent readers see either the old or the
// new document.
func (f *File) Sync(_ context.Context, previous, next model.OAuthTokens, expiresAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil && !errors.Is(err, driven.ErrSourceFileMalformed) {
		return false, fmt.Errorf("sync %s: %v: %w", f.path, err, driven.ErrSyncFailed)
	}
	if err != nil {
		f.logger.Debug("credentials file unreadable, leaving it untouched", "path", f.path)
		return false, nil
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}

	entry := map[string]json.RawMessage{}
	if raw, ok := doc[sessionKey]; ok {
		if err := json.Unmarshal(raw, &entry); err != nil {
			f.logger.Debug("credentials session entry unreadable, leaving it untouched", "path", f.path)
			return false, nil
		}
		var current session
		_ = json.Unmarshal(raw, &current)
		owner := model.ExternalCredentials{Tokens: model.OAuthTokens{
			AccessToken:  current.AccessToken,
			RefreshToken: current.RefreshToken,
		}}
		if !owner.BelongsTo(previous) && !owner.BelongsTo(next) {
			f.logger.Debug("credentials file holds another session, skipping sync", "path", f.path)
			return false, nil
		}
	}

	if err := setField(entry, "accessToken", next.AccessToken); err != nil {
		return false, err
	}
	if err := setField(entry, "refreshToken", next.RefreshToken); err != nil {
		return false, err
	}
	// A grant without an expiry keeps the one already recorded; writing 0
	// would read as expired to the file's owner.
	if !expiresAt.IsZero() {
		if err := setField(entry, "expiresAt", toMillis(expiresAt)); err != nil {
			return false, err
		}
	}

	encodedEntry, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("sync %s: encode session: %v: %w", f.path, err, driven.ErrSyncFailed)
	}
	doc[sessionKey] = encodedEntry

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("sync %s: encode document: %v: %w", f.path, err, driven.ErrSyncFailed)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return false, fmt.Errorf("sync %s: create directory: %v: %w", f.path, err, driven.ErrSyncFailed)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(out)); err != nil {
		return false, fmt.Errorf("sync %s: %v: %w", f.path, err, driven.ErrSyncFailed)
	}
	if err := os.Chmod(f.path, 0o600); err != nil {
		return false, fmt.Errorf("sync %s: restrict permissions: %v: %w", f.path, err, driven.ErrSyncFailed)
	}

	return true, nil
}

// session mirrors the fields of the external session entry the vault uses.
type session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// load returns the parsed document, or nil when the file does not exist. A
// file that exists but cannot be read is reported as driven.ErrSourceFileMissing.
func (f *File) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", f.path, err, driven.ErrSourceFileMissing)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", f.path, err, driven.ErrSourceFileMalformed)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse %s: not a JSON object: %w", f.path, driven.ErrSourceFileMalformed)
	}
	return doc, nil
}

func setField(entry map[string]json.RawMessage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %v: %w", key, err, driven.ErrSyncFailed)
	}
	entry[key] = raw
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
