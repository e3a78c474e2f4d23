package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyon-sec/authgate/internal/auth"
)

// CredentialStore implements auth.CredentialStore on the credentials
// table. The salt column is nullable: NULL marks a legacy unsalted
// record, which is the format discriminator the verifier relies on.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a store over the given pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Fetch loads one record by username.
func (s *CredentialStore) Fetch(ctx context.Context, username string) (auth.CredentialRecord, error) {
	const query = `
		SELECT username, principal_id, display_name, digest, COALESCE(salt, '')
		FROM credentials
		WHERE username = $1`

	var rec auth.CredentialRecord
	err := s.pool.QueryRow(ctx, query, username).Scan(
		&rec.Username,
		&rec.PrincipalID,
		&rec.DisplayName,
		&rec.Digest,
		&rec.Salt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.CredentialRecord{}, auth.ErrCredentialNotFound
		}
		return auth.CredentialRecord{}, fmt.Errorf("fetch credential: %w", err)
	}
	return rec, nil
}

// Write replaces the secret material of an existing record. Writing the
// same digest and salt twice is a no-op, which makes migration retries
// harmless.
func (s *CredentialStore) Write(ctx context.Context, username, digest, salt string) error {
	const query = `
		UPDATE credentials
		SET digest = $2, salt = NULLIF($3, ''), updated_at = now()
		WHERE username = $1`

	tag, err := s.pool.Exec(ctx, query, username, digest, salt)
	if err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrCredentialNotFound
	}
	return nil
}

// Create inserts a fresh record, refusing to clobber an existing
// username.
func (s *CredentialStore) Create(ctx context.Context, rec auth.CredentialRecord) error {
	const query = `
		INSERT INTO credentials (username, principal_id, display_name, digest, salt)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (username) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.Username, rec.PrincipalID, rec.DisplayName, rec.Digest, rec.Salt)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUsernameTaken
	}
	return nil
}
