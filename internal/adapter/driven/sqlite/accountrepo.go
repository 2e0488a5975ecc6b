package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// AccountRepo is the SQLite implementation of the AccountStore port interface.
// Secrets are encrypted with AES-256-GCM before write and authenticated on read.
type AccountRepo struct {
	db  *DB
	enc sealer
	now func() time.Time
}

// NewAccountRepo creates a new AccountRepo that encrypts with keys from the
// given KeyProvider.
func NewAccountRepo(db *DB, keys driven.KeyProvider) *AccountRepo {
	return &AccountRepo{
		db:  db,
		enc: sealer{keys: keys},
		now: func() time.Time { return time.Now().UTC() },
	}
}

const accountColumns = `id, name, kind, secret != '', needs_login, expires_at, created_at, updated_at, last_used_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Put encrypts secret and inserts the account, or fully replaces an existing
// account of the same name when replace is true.
func (r *AccountRepo) Put(ctx context.Context, name string, kind model.Kind, secret string, replace bool) (*model.Account, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("put account %q: unknown kind %q: %w", name, kind, driven.ErrWrongKind)
	}

	encrypted, err := r.sealIfPresent(name, secret)
	if err != nil {
		return nil, fmt.Errorf("put account %q: %w", name, err)
	}

	now := formatTime(r.now())
	query := `INSERT INTO accounts (id, name, kind, secret, expires_at, needs_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)`
	if replace {
		query += ` ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			secret = excluded.secret,
			expires_at = 0,
			needs_login = 0,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_used_at = NULL`
	}

	_, err = r.db.Writer.ExecContext(ctx, query, uuid.NewString(), name, string(kind), encrypted, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("put account %q: %w", name, driven.ErrDuplicateName)
		}
		return nil, fmt.Errorf("put account %q: %w", name, err)
	}

	return r.get(ctx, r.db.Writer, name)
}

// Get returns the account metadata for name or driven.ErrNotFound.
func (r *AccountRepo) Get(ctx context.Context, name string) (*model.Account, error) {
	return r.get(ctx, r.db.Reader, name)
}

func (r *AccountRepo) get(ctx context.Context, q queryer, name string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE name = ?`

	acc, err := scanAccount(q.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get account %q: %w", name, driven.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", name, err)
	}
	return acc, nil
}

// List returns all accounts ordered by creation time, then name.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, name`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// UpdateSecret replaces ciphertext and expiry in one UPDATE statement so the
// pair is never observed half-written. It also clears the needs-login flag.
// Repeating the call with the same arguments leaves the same state.
func (r *AccountRepo) UpdateSecret(ctx context.Context, name, secret string, expiresAt time.Time) (*model.Account, error) {
	encrypted, err := r.sealIfPresent(name, secret)
	if err != nil {
		return nil, fmt.Errorf("update secret %q: %w", name, err)
	}

	const query = `UPDATE accounts
		SET secret = ?, expires_at = ?, needs_login = 0, updated_at = ?
		WHERE name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, encrypted, toMillis(expiresAt), formatTime(r.now()), name)
	if err != nil {
		return nil, fmt.Errorf("update secret %q: %w", name, err)
	}
	if err := requireRow(result, "update secret", name); err != nil {
		return nil, err
	}

	return r.get(ctx, r.db.Writer, name)
}

// MarkNeedsLogin flags the account as requiring a fresh capture.
func (r *AccountRepo) MarkNeedsLogin(ctx context.Context, name string) error {
	const query = `UPDATE accounts SET needs_login = 1, updated_at = ? WHERE name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(r.now()), name)
	if err != nil {
		return fmt.Errorf("mark needs login %q: %w", name, err)
	}
	return requireRow(result, "mark needs login", name)
}

// TouchLastUsed records the current time as the account's last launch.
func (r *AccountRepo) TouchLastUsed(ctx context.Context, name string) error {
	const query = `UPDATE accounts SET last_used_at = ? WHERE name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(r.now()), name)
	if err != nil {
		return fmt.Errorf("touch last used %q: %w", name, err)
	}
	return requireRow(result, "touch last used", name)
}

// Delete permanently removes the account and its ciphertext.
func (r *AccountRepo) Delete(ctx context.Context, name string) error {
	const query = `DELETE FROM accounts WHERE name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("delete account %q: %w", name, err)
	}
	return requireRow(result, "delete account", name)
}

// Decrypt returns the plaintext secret of the account. An uncaptured account
// yields driven.ErrNeedsLogin; a ciphertext that fails authentication yields
// driven.ErrDecryptionFailed.
func (r *AccountRepo) Decrypt(ctx context.Context, name string) (string, error) {
	const query = `SELECT secret FROM accounts WHERE name = ?`

	var encrypted string
	err := r.db.Reader.QueryRowContext(ctx, query, name).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("decrypt account %q: %w", name, driven.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("decrypt account %q: %w", name, err)
	}
	if encrypted == "" {
		return "", fmt.Errorf("decrypt account %q: %w", name, driven.ErrNeedsLogin)
	}

	plaintext, err := r.enc.open(name, encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt account %q: %w", name, err)
	}
	return plaintext, nil
}

// Ping verifies both connection pools respond.
func (r *AccountRepo) Ping(ctx context.Context) error {
	if err := r.db.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if err := r.db.Reader.PingContext(ctx); err != nil {
		return fmt.Errorf("ping reader: %w", err)
	}
	return nil
}

func (r *AccountRepo) sealIfPresent(name, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	return r.enc.seal(name, secret)
}

func requireRow(result sql.Result, op, name string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %q: %w", op, name, driven.ErrNotFound)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.Account, error) {
	var (
		acc        model.Account
		kind       string
		needsLogin bool
		expiresMs  int64
		createdAt  string
		updatedAt  string
		lastUsedAt sql.NullString
	)

	if err := s.Scan(&acc.ID, &acc.Name, &kind, &acc.Captured, &needsLogin, &expiresMs, &createdAt, &updatedAt, &lastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	acc.Kind = model.Kind(kind)
	acc.NeedsLogin = needsLogin
	acc.ExpiresAt = fromMillis(expiresMs)

	var err error
	acc.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for account %q: %w", acc.Name, err)
	}
	acc.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for account %q: %w", acc.Name, err)
	}
	if lastUsedAt.Valid {
		t, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_used_at for account %q: %w", acc.Name, err)
		}
		acc.LastUsedAt = &t
	}

	return &acc, nil
}
