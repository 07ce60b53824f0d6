package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"

	"github.com/ericfisherdev/chatvault/internal/adapter/driven/keystore"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// openTestDB creates a named shared in-memory SQLite database without running migrations.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
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

	db := &DB{Writer: writer, Reader: reader}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// setupTestDB creates a migrated in-memory database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db := openTestDB(t)
	if err := RunMigrations(db.Writer); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}

// memSecrets is an in-memory driven.SecretStore.
type memSecrets struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemSecrets() *memSecrets {
	return &memSecrets{data: make(map[string]string)}
}

func (m *memSecrets) Get(alias string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[alias]
	if !ok {
		return "", driven.ErrSecretNotFound
	}
	return v, nil
}

func (m *memSecrets) Set(alias, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[alias] = secret
	return nil
}

func (m *memSecrets) Delete(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, alias)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRepo returns a repo over a migrated database together with its cipher.
func newTestRepo(t *testing.T) (*CredentialRepo, *keystore.Cipher, *DB) {
	t.Helper()

	db := setupTestDB(t)
	c := keystore.NewCipher(newMemSecrets())
	return NewCredentialRepo(db, c, discardLogger()), c, db
}
