package sqlite

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// mostRecentFirst orders records so the most-recently-used one comes first.
const mostRecentFirst = `ORDER BY COALESCE(last_used, created_at) DESC, id DESC`

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// API keys are encrypted with the injected Cipher before write and decrypted after read.
type CredentialRepo struct {
	db     *DB
	cipher driven.Cipher
	logger *slog.Logger
	now    func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *DB, cipher driven.Cipher, logger *slog.Logger) *CredentialRepo {
	return &CredentialRepo{
		db:     db,
		cipher: cipher,
		logger: logger,
		now:    time.Now,
	}
}

// SaveAuth upserts the record for provider. The pin hash of other providers' records
// wins over pinHash, and every row is re-synchronised to that hash in the same
// transaction.
func (r *CredentialRepo) SaveAuth(ctx context.Context, provider model.Provider, apiKey, pinHash string) error {
	if !provider.IsKnown() {
		return fmt.Errorf("save credential: unsupported provider %q", provider)
	}
	if apiKey == "" || pinHash == "" {
		return errors.New("save credential: api key and pin hash are required")
	}

	encrypted, err := r.cipher.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt credential %q: %w", provider, err)
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save credential: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	binding := pinHash
	const bindingQuery = `SELECT pin_hash FROM credentials WHERE provider != ? ` + mostRecentFirst + ` LIMIT 1`
	err = tx.QueryRowContext(ctx, bindingQuery, string(provider)).Scan(&binding)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		binding = pinHash
	case err != nil:
		return fmt.Errorf("read shared pin hash: %w", err)
	}
	if binding != pinHash {
		r.logger.Debug("pin hash taken from existing credentials", "provider", provider)
	}

	now := formatTime(r.now())
	const upsert = `INSERT INTO credentials (api_key, provider, pin_hash, created_at, last_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			api_key = excluded.api_key,
			pin_hash = excluded.pin_hash,
			last_used = excluded.last_used`
	if _, err := tx.ExecContext(ctx, upsert, encrypted, string(provider), binding, now, now); err != nil {
		return fmt.Errorf("upsert credential %q: %w", provider, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE credentials SET pin_hash = ? WHERE pin_hash != ?`, binding, binding); err != nil {
		return fmt.Errorf("sync pin hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save credential: %w", err)
	}
	return nil
}

// ChangePin replaces the pin hash on every record atomically.
func (r *CredentialRepo) ChangePin(ctx context.Context, pinHash string) error {
	if pinHash == "" {
		return errors.New("change pin: pin hash is required")
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin change pin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE credentials SET pin_hash = ?`, pinHash)
	if err != nil {
		return fmt.Errorf("update pin hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit change pin: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		r.logger.Info("pin hash changed", "records", n)
	}
	return nil
}

// GetAuth returns the record for provider, or the most-recently-used record when
// provider is empty. Returns (nil, nil) if no record matches.
func (r *CredentialRepo) GetAuth(ctx context.Context, provider model.Provider) (*model.CredentialRecord, error) {
	const columns = `SELECT id, api_key, provider, pin_hash, created_at, last_used FROM credentials `

	var row *sql.Row
	if provider == "" {
		row = r.db.Reader.QueryRowContext(ctx, columns+mostRecentFirst+` LIMIT 1`)
	} else {
		if !provider.IsKnown() {
			return nil, fmt.Errorf("get credential: unsupported provider %q", provider)
		}
		row = r.db.Reader.QueryRowContext(ctx, columns+`WHERE provider = ?`, string(provider))
	}

	var (
		rec       model.CredentialRecord
		encrypted string
		prov      string
		createdAt string
		lastUsed  sql.NullString
	)
	err := row.Scan(&rec.ID, &encrypted, &prov, &rec.PinHash, &createdAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	rec.Provider = model.ParseProvider(prov)

	rec.APIKey, err = r.cipher.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %q: %w", prov, err)
	}
	if r.cipher.NeedsUpgrade(encrypted) {
		r.upgradeLegacyKey(ctx, rec.ID, encrypted, rec.APIKey)
	}

	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for credential %q: %w", prov, err)
	}
	if lastUsed.Valid && lastUsed.String != "" {
		t, err := parseTime(lastUsed.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_used for credential %q: %w", prov, err)
		}
		rec.LastUsedAt = &t
	}

	return &rec, nil
}

// GetAPIKey returns the plaintext key of the most-recently-used record, or "".
func (r *CredentialRepo) GetAPIKey(ctx context.Context) (string, error) {
	rec, err := r.GetAuth(ctx, "")
	if err != nil || rec == nil {
		return "", err
	}
	return rec.APIKey, nil
}

// GetPinHash returns the pin hash of the most-recently-used record, or "".
// It does not decrypt the key, so a damaged key does not block PIN checks.
func (r *CredentialRepo) GetPinHash(ctx context.Context) (string, error) {
	var pinHash string
	err := r.db.Reader.QueryRowContext(ctx, `SELECT pin_hash FROM credentials `+mostRecentFirst+` LIMIT 1`).Scan(&pinHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pin hash: %w", err)
	}
	return pinHash, nil
}

// GetProvider returns the provider of the most-recently-used record, or "".
func (r *CredentialRepo) GetProvider(ctx context.Context) (model.Provider, error) {
	var prov string
	err := r.db.Reader.QueryRowContext(ctx, `SELECT provider FROM credentials `+mostRecentFirst+` LIMIT 1`).Scan(&prov)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get provider: %w", err)
	}
	return model.ParseProvider(prov), nil
}

// VerifyPin hashes pin and compares it with the stored hash in constant time.
func (r *CredentialRepo) VerifyPin(ctx context.Context, pin string) (bool, error) {
	stored, err := r.GetPinHash(ctx)
	if err != nil {
		return false, err
	}
	if stored == "" {
		return false, nil
	}
	candidate := model.HashPin(pin)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored)) == 1, nil
}

// HasAuth reports whether at least one record has both a key and a pin hash.
func (r *CredentialRepo) HasAuth(ctx context.Context) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM credentials WHERE api_key != '' AND pin_hash != '')`
	var exists bool
	if err := r.db.Reader.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		return false, fmt.Errorf("check credentials: %w", err)
	}
	return exists, nil
}

// ClearAuth deletes every credential record and then the encryption key that
// sealed them. A key that cannot be deleted is logged and left in place; the
// records are already gone.
func (r *CredentialRepo) ClearAuth(ctx context.Context) error {
	res, err := r.db.Writer.ExecContext(ctx, `DELETE FROM credentials`)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.logger.Info("credentials cleared", "records", n)
	}

	if err := r.cipher.DestroyKey(); err != nil {
		r.logger.Warn("encryption key not deleted", "error", err)
	}
	return nil
}

// TouchLastUsed stamps the provider's record with the current time.
func (r *CredentialRepo) TouchLastUsed(ctx context.Context, provider model.Provider) error {
	const query = `UPDATE credentials SET last_used = ? WHERE provider = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, formatTime(r.now()), string(provider)); err != nil {
		return fmt.Errorf("touch credential %q: %w", provider, err)
	}
	return nil
}

// ListProviders returns the providers with a stored record, ordered by name.
func (r *CredentialRepo) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := r.db.Reader.QueryContext(ctx, `SELECT provider FROM credentials ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	providers := []model.Provider{}
	for rows.Next() {
		var prov string
		if err := rows.Scan(&prov); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, model.ParseProvider(prov))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	return providers, nil
}

// upgradeLegacyKey re-encrypts a legacy base64 key in place. Failure is logged and
// otherwise ignored; the legacy value stays readable.
func (r *CredentialRepo) upgradeLegacyKey(ctx context.Context, id int64, legacy, plaintext string) {
	encrypted, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		r.logger.Warn("legacy credential upgrade failed", "id", id, "error", err)
		return
	}

	// The api_key guard skips the write if another caller already upgraded the row.
	const query = `UPDATE credentials SET api_key = ? WHERE id = ? AND api_key = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, encrypted, id, legacy); err != nil {
		r.logger.Warn("legacy credential upgrade failed", "id", id, "error", err)
		return
	}
	r.logger.Info("legacy credential upgraded", "id", id)
}
