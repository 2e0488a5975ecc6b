// Package config loads application configuration from an optional TOML file
// and environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment variable names read by Load.
const (
	EnvHome            = "CLAUDE_ACCOUNTS_HOME"
	EnvDBPath          = "CLAUDE_ACCOUNTS_DB_PATH"
	EnvKeyPath         = "CLAUDE_ACCOUNTS_KEY_PATH"
	EnvSecretKey       = "CLAUDE_ACCOUNTS_SECRET_KEY"
	EnvCredentialsPath = "CLAUDE_ACCOUNTS_CREDENTIALS_PATH"
	EnvTokenURL        = "CLAUDE_ACCOUNTS_TOKEN_URL"
	EnvClientID        = "CLAUDE_ACCOUNTS_CLIENT_ID"
	EnvRefreshTimeout  = "CLAUDE_ACCOUNTS_REFRESH_TIMEOUT"
	EnvExpiryLead      = "CLAUDE_ACCOUNTS_EXPIRY_LEAD"
	EnvKeeperInterval  = "CLAUDE_ACCOUNTS_KEEPER_INTERVAL"
	EnvListenAddr      = "CLAUDE_ACCOUNTS_LISTEN_ADDR"
	EnvClaudeBin       = "CLAUDE_ACCOUNTS_CLAUDE_BIN"
)

// Defaults applied when neither the config file nor the environment set a value.
const (
	DefaultListenAddr     = "127.0.0.1:5111"
	DefaultRefreshTimeout = 30 * time.Second
	DefaultExpiryLead     = 5 * time.Minute
	DefaultKeeperInterval = time.Minute
	DefaultClaudeBin      = "claude"
	FileName              = "config.toml"
)

// Config holds the resolved application configuration.
type Config struct {
	Home            string
	DBPath          string
	KeyPath         string
	SecretKey       []byte // nil unless set explicitly; overrides the key file
	CredentialsPath string
	TokenURL        string // empty selects the built-in endpoint
	ClientID        string // empty selects the built-in client
	RefreshTimeout  time.Duration
	ExpiryLead      time.Duration
	KeeperInterval  time.Duration // zero disables background refresh in serve
	ListenAddr      string
	ClaudeBin       string
}

// fileConfig mirrors config.toml. Every key is optional.
type fileConfig struct {
	DBPath          string `toml:"db_path"`
	KeyPath         string `toml:"key_path"`
	CredentialsPath string `toml:"credentials_path"`
	TokenURL        string `toml:"token_url"`
	ClientID        string `toml:"client_id"`
	RefreshTimeout  string `toml:"refresh_timeout"`
	ExpiryLead      string `toml:"expiry_lead"`
	KeeperInterval  string `toml:"keeper_interval"`
	ListenAddr      string `toml:"listen_addr"`
	ClaudeBin       string `toml:"claude_bin"`
}

// Load resolves the configuration. The vault home defaults to
// ~/.claude-accounts and may hold a config.toml; CLAUDE_ACCOUNTS_* variables
// override file values. Invalid durations or keys fail fast.
func Load() (*Config, error) {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	home := filepath.Join(userHome, ".claude-accounts")
	if v, ok := os.LookupEnv(EnvHome); ok && v != "" {
		home = v
	}

	fc, err := readFile(filepath.Join(home, FileName))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Home:            home,
		DBPath:          pick(EnvDBPath, fc.DBPath, filepath.Join(home, "accounts.db")),
		KeyPath:         pick(EnvKeyPath, fc.KeyPath, filepath.Join(home, ".key")),
		CredentialsPath: pick(EnvCredentialsPath, fc.CredentialsPath, filepath.Join(userHome, ".claude", ".credentials.json")),
		TokenURL:        pick(EnvTokenURL, fc.TokenURL, ""),
		ClientID:        pick(EnvClientID, fc.ClientID, ""),
		ListenAddr:      pick(EnvListenAddr, fc.ListenAddr, DefaultListenAddr),
		ClaudeBin:       pick(EnvClaudeBin, fc.ClaudeBin, DefaultClaudeBin),
	}

	if cfg.RefreshTimeout, err = duration(EnvRefreshTimeout, fc.RefreshTimeout, DefaultRefreshTimeout); err != nil {
		return nil, err
	}
	if cfg.RefreshTimeout <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %s", EnvRefreshTimeout, cfg.RefreshTimeout)
	}
	if cfg.ExpiryLead, err = duration(EnvExpiryLead, fc.ExpiryLead, DefaultExpiryLead); err != nil {
		return nil, err
	}
	if cfg.ExpiryLead < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %s", EnvExpiryLead, cfg.ExpiryLead)
	}
	if cfg.KeeperInterval, err = duration(EnvKeeperInterval, fc.KeeperInterval, DefaultKeeperInterval); err != nil {
		return nil, err
	}
	if cfg.KeeperInterval < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %s", EnvKeeperInterval, cfg.KeeperInterval)
	}

	if v, ok := os.LookupEnv(EnvSecretKey); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be hex-encoded: %w", EnvSecretKey, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("%s must be 32 bytes (64 hex characters), got %d bytes", EnvSecretKey, len(key))
		}
		cfg.SecretKey = key
	}

	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// pick returns the environment value, then the file value, then def.
func pick(env, fileValue, def string) string {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return def
}

func duration(env, fileValue string, def time.Duration) (time.Duration, error) {
	raw := pick(env, fileValue, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", env, raw, err)
	}
	return d, nil
}
