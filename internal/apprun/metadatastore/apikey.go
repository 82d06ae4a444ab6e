package metadatastore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// APIKey is one row of the api_keys table, never including the plaintext
// secret (only returned once, at creation time, by CreateAPIKey).
type APIKey struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	Revoked    bool
}

// CreateAPIKey mints a new random API key, stores its bcrypt hash, and
// returns the plaintext secret exactly once — callers must display or
// deliver it immediately since it cannot be recovered afterward.
func (s *Store) CreateAPIKey(ctx context.Context, name string) (plaintext string, key APIKey, err error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", APIKey{}, fmt.Errorf("metadatastore: generate api key secret: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", APIKey{}, fmt.Errorf("metadatastore: hash api key: %w", err)
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, hash) VALUES (?, ?, ?)`, id, name, string(hash)); err != nil {
		return "", APIKey{}, fmt.Errorf("metadatastore: insert api key: %w", err)
	}

	return plaintext, APIKey{ID: id, Name: name, CreatedAt: time.Now()}, nil
}

// VerifyAPIKey checks plaintext against every non-revoked key's bcrypt
// hash, returning the matching key and updating its last-used timestamp.
// Comparisons intentionally run against every row rather than stopping at
// the first non-matching one to avoid leaking which prefix of stored keys
// exists via timing.
func (s *Store) VerifyAPIKey(ctx context.Context, plaintext string) (*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, hash, created_at, last_used_at, revoked FROM api_keys WHERE revoked = 0`)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: query api keys: %w", err)
	}
	defer rows.Close()

	var matched *APIKey
	for rows.Next() {
		var (
			id, name, hash string
			createdAt      time.Time
			lastUsedAt     sql.NullTime
			revoked        bool
		)
		if err := rows.Scan(&id, &name, &hash, &createdAt, &lastUsedAt, &revoked); err != nil {
			return nil, fmt.Errorf("metadatastore: scan api key: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil {
			matched = &APIKey{ID: id, Name: name, CreatedAt: createdAt, Revoked: revoked}
			if lastUsedAt.Valid {
				matched.LastUsedAt = &lastUsedAt.Time
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, ErrNotFound
	}

	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now, matched.ID); err != nil {
		return nil, fmt.Errorf("metadatastore: touch api key: %w", err)
	}
	matched.LastUsedAt = &now

	return matched, nil
}

// RevokeAPIKey marks key id as revoked.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("metadatastore: revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
