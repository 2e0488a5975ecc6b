// Package keyfile implements the KeyProvider port backed by a hex-encoded key
// file with owner-only permissions.
package keyfile

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Compile-time interface satisfaction check.
var _ driven.KeyProvider = (*Manager)(nil)

// Manager lazily creates or loads the vault key and caches it for the life of
// the process. A failed load is not cached, so a repaired key file is picked up
// on the next call.
type Manager struct {
	path     string
	override []byte
	logger   *slog.Logger

	mu  sync.Mutex
	key []byte
}

// NewManager creates a Manager for the key file at path. override, when
// non-nil, is used instead of the file (for example a key supplied through the
// environment) and must be KeySize bytes.
func NewManager(path string, override []byte, logger *slog.Logger) *Manager {
	return &Manager{path: path, override: override, logger: logger}
}

// Key returns the vault key, generating and persisting a new one on first use.
// Errors wrap driven.ErrKeyUnavailable.
func (m *Manager) Key() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == nil {
		key, err := m.load()
		if err != nil {
			return nil, err
		}
		m.key = key
	}
	return bytes.Clone(m.key), nil
}

func (m *Manager) load() ([]byte, error) {
	if m.override != nil {
		if len(m.override) != KeySize {
			return nil, fmt.Errorf("configured key must be %d bytes, got %d: %w", KeySize, len(m.override), driven.ErrKeyUnavailable)
		}
		return bytes.Clone(m.override), nil
	}

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m.create()
	}
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %v: %w", m.path, err, driven.ErrKeyUnavailable)
	}

	m.tightenPermissions()
	return decode(m.path, data)
}

// create writes a fresh key to a temporary file and hard-links it into place.
// The link fails if the key file already exists, so processes racing on first
// use share whichever key landed first, and the key file is never observed
// empty or partially written.
func (m *Manager) create() ([]byte, error) {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %v: %w", err, driven.ErrKeyUnavailable)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %v: %w", err, driven.ErrKeyUnavailable)
	}

	tmp, err := os.CreateTemp(dir, ".key-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create key file %s: %v: %w", m.path, err, driven.ErrKeyUnavailable)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write key file %s: %v: %w", m.path, err, driven.ErrKeyUnavailable)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write key file %s: %v: %w", m.path, err, driven.ErrKeyUnavailable)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close key file %s: %v: %w", m.path, err, driven.ErrKeyUnavailable)
	}

	err = os.Link(tmp.Name(), m.path)
	if errors.Is(err, fs.ErrExist) {
		data, readErr := os.ReadFile(m.path)
		if readErr != nil {
			return nil, fmt.Errorf("read key file %s: %v: %w", m.path, readErr, driven.ErrKeyUnavailable)
		}
		return decode(m.path, data)
	}
	if err != nil {
		return nil, fmt.Errorf("create key file %s: %v: %w", m.path, err, driven.ErrKeyUnavailable)
	}

	m.logger.Info("encryption key created", "path", m.path)
	return key, nil
}

func (m *Manager) tightenPermissions() {
	info, err := os.Stat(m.path)
	if err != nil || info.Mode().Perm()&0o077 == 0 {
		return
	}
	if err := os.Chmod(m.path, 0o600); err != nil {
		m.logger.Warn("key file is readable by other users", "path", m.path, "mode", info.Mode().Perm().String(), "error", err)
		return
	}
	m.logger.Warn("key file permissions tightened", "path", m.path, "previous_mode", info.Mode().Perm().String())
}

func decode(path string, data []byte) ([]byte, error) {
	key, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not hex encoded: %w", path, driven.ErrKeyUnavailable)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d: %w", path, len(key), KeySize, driven.ErrKeyUnavailable)
	}
	return key, nil
}
