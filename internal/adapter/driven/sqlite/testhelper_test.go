package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// staticKey is a KeyProvider returning a fixed key or error.
type staticKey struct {
	key []byte
	err error
}

func (k staticKey) Key() ([]byte, error) {
	return k.key, k.err
}

func testKey(seed byte) staticKey {
	key := make([]byte, 32)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return staticKey{key: key}
}

// rawSecret reads the stored ciphertext directly, bypassing the repo.
func rawSecret(t *testing.T, db *DB, name string) string {
	t.Helper()
	var s string
	err := db.Writer.QueryRowContext(context.Background(), `SELECT secret FROM accounts WHERE name = ?`, name).Scan(&s)
	if err != nil {
		t.Fatalf("read raw secret: %v", err)
	}
	return s
}

func setRawSecret(t *testing.T, db *DB, name, secret string) {
	t.Helper()
	_, err := db.Writer.ExecContext(context.Background(), `UPDATE accounts SET secret = ? WHERE name = ?`, secret, name)
	if err != nil {
		t.Fatalf("write raw secret: %v", err)
	}
}
