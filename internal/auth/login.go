package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyon-sec/authgate/internal/audit"
	"github.com/halcyon-sec/authgate/internal/ratelimit"
)

// LoginResult carries the tokens returned to the client. Refresh is
// empty when the result comes from a token refresh rather than a full
// login: exchanging a refresh token never renews the refresh token
// itself.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Login authenticates a password against the stored credential record
// and mints tokens on success.
//
// The rate-limit check runs before anything else: a locked-out source
// never reaches the credential store and never pays for a derivation.
// On a legacy-format match the record is re-hashed and rewritten in the
// target format; that write is best effort, a failure is logged and
// retried naturally on the next login.
func (s *AuthService) Login(ctx context.Context, sourceAddr, username, password string) (*LoginResult, error) {
	key := ratelimit.Key{SourceAddress: sourceAddr, Endpoint: loginEndpoint}

	decision, err := s.limiter.Check(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit check: %v", ErrStorageUnavailable, err)
	}
	if !decision.Admitted {
		s.audit.Record(ctx, "auth.login.locked_out", audit.Params{
			Username:      username,
			SourceAddress: sourceAddr,
		})
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	rec, err := s.credentials.Fetch(ctx, username)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			// Burn the same derivation cost as a wrong password so an
			// unknown username is indistinguishable by timing. The
			// rate-limit increment above already counted this attempt.
			s.hasher.Verify(password, s.decoy)
			s.audit.Record(ctx, "auth.login.failed", audit.Params{
				Username:      username,
				SourceAddress: sourceAddr,
				Reason:        "unknown_username",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: credential fetch: %v", ErrStorageUnavailable, err)
	}

	matched, shouldMigrate := s.hasher.Verify(password, rec)
	if !matched {
		s.audit.Record(ctx, "auth.login.failed", audit.Params{
			PrincipalID:   rec.PrincipalID,
			Username:      username,
			SourceAddress: sourceAddr,
			Reason:        "wrong_password",
		})
		return nil, ErrInvalidCredentials
	}

	if shouldMigrate {
		s.migrateCredential(ctx, username, password, rec)
	}

	if err := s.limiter.Reset(ctx, key); err != nil {
		// Not worth failing an authenticated login over; the stale
		// counter expires with its window.
		slog.Warn("rate_limit_reset_failed", "source", sourceAddr, "error", err)
	}

	identity := Identity{
		PrincipalID: rec.PrincipalID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
	}

	accessToken, expiresAt, err := s.tokens.IssueAccessToken(identity)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}
	refreshToken, _, err := s.tokens.IssueRefreshToken(identity)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	s.audit.Record(ctx, "auth.login.success", audit.Params{
		PrincipalID:   rec.PrincipalID,
		Username:      username,
		SourceAddress: sourceAddr,
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// migrateCredential upgrades a legacy record to the salted format after
// a successful verification. Verify itself never writes; the side
// effect lives here where it is observable.
func (s *AuthService) migrateCredential(ctx context.Context, username, password string, rec CredentialRecord) {
	digest, salt, err := s.hasher.Hash(password)
	if err == nil {
		err = s.credentials.Write(ctx, username, digest, salt)
	}
	if err != nil {
		slog.Warn("credential_migration_failed", "username", username, "error", err)
		return
	}
	s.audit.Record(ctx, "auth.credential.migrated", audit.Params{
		PrincipalID: rec.PrincipalID,
		Username:    username,
	})
}

// Authorize verifies a presented bearer token for a protected endpoint
// and returns its claims. Refresh tokens are not admission tickets.
func (s *AuthService) Authorize(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAccess {
		return nil, ErrTokenScopeInvalid
	}
	return claims, nil
}

// Refresh exchanges a valid refresh token for a fresh access token. The
// presented token's own expiration is left untouched; there is no
// silent indefinite renewal.
func (s *AuthService) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeRefresh {
		return nil, ErrTokenScopeInvalid
	}

	accessToken, expiresAt, err := s.tokens.IssueAccessToken(claims.Identity())
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	s.audit.Record(ctx, "auth.token.refreshed", audit.Params{
		PrincipalID: claims.PrincipalID,
		Username:    claims.Username,
	})

	return &LoginResult{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
	}, nil
}
