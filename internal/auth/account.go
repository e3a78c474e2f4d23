package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/halcyon-sec/authgate/internal/audit"
)

// Register creates the credential record for a new principal. The
// record is born in the salted format; legacy rows only ever enter the
// table from older systems sharing it.
func (s *AuthService) Register(ctx context.Context, username, displayName, password string) (uuid.UUID, error) {
	digest, salt, err := s.hasher.Hash(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to hash password: %w", err)
	}

	rec := CredentialRecord{
		Username:    username,
		PrincipalID: uuid.New(),
		DisplayName: displayName,
		Digest:      digest,
		Salt:        salt,
	}
	if err := s.credentials.Create(ctx, rec); err != nil {
		return uuid.Nil, err
	}

	s.audit.Record(ctx, "auth.account.registered", audit.Params{
		PrincipalID: rec.PrincipalID,
		Username:    username,
	})
	return rec.PrincipalID, nil
}

// ChangePassword replaces a principal's stored secret after
// re-verifying the current one. Unlike login this path is reached only
// with a valid access token, so it does not consume rate-limit budget.
func (s *AuthService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	rec, err := s.credentials.Fetch(ctx, username)
	if err != nil {
		return ErrInvalidCredentials
	}

	matched, _ := s.hasher.Verify(oldPassword, rec)
	if !matched {
		s.audit.Record(ctx, "auth.password.change_rejected", audit.Params{
			PrincipalID: rec.PrincipalID,
			Username:    username,
		})
		return ErrInvalidCredentials
	}

	digest, salt, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.credentials.Write(ctx, username, digest, salt); err != nil {
		return fmt.Errorf("%w: credential write: %v", ErrStorageUnavailable, err)
	}

	s.audit.Record(ctx, "auth.password.changed", audit.Params{
		PrincipalID: rec.PrincipalID,
		Username:    username,
	})
	return nil
}
