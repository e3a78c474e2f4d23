package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/halcyon-sec/authgate/internal/audit"
	"github.com/halcyon-sec/authgate/internal/ratelimit"
)

var (
	// ErrInvalidCredentials covers both unknown username and wrong
	// password. The two are never distinguished to the caller.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrCredentialNotFound is returned by CredentialStore.Fetch when
	// no record exists. It never escapes the service layer.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrUsernameTaken is returned when registering an existing name.
	ErrUsernameTaken = errors.New("username already registered")

	// ErrStorageUnavailable wraps datastore failures. Retrying is the
	// storage collaborator's concern, not this layer's.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RateLimitedError denies an admission with a hint on when to retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// CredentialStore is the narrow contract this subsystem requires from
// the credential table's owner.
type CredentialStore interface {
	// Fetch returns the record for username or ErrCredentialNotFound.
	Fetch(ctx context.Context, username string) (CredentialRecord, error)
	// Write replaces digest and salt on an existing record. Used for
	// migration and password change; idempotent under retry.
	Write(ctx context.Context, username, digest, salt string) error
	// Create inserts a fresh record, or ErrUsernameTaken.
	Create(ctx context.Context, rec CredentialRecord) error
}

// loginEndpoint keys the rate-limit bucket for password logins.
const loginEndpoint = "login"

// AuthService orchestrates login, token refresh and the admission
// decision protected endpoints need. It is agnostic of HTTP transport
// and of the concrete datastore.
type AuthService struct {
	credentials CredentialStore
	limiter     *ratelimit.Limiter
	hasher      PasswordHasher
	tokens      TokenProvider
	audit       audit.Recorder

	// decoy is verified in place of a missing user's record so that an
	// unknown username costs the same derivation work, and produces
	// the same response, as a wrong password.
	decoy CredentialRecord
}

// NewAuthService wires the service. It pre-computes the decoy record
// once so the per-request cost of the unknown-username path matches the
// salted verification path exactly.
func NewAuthService(
	credentials CredentialStore,
	limiter *ratelimit.Limiter,
	hasher PasswordHasher,
	tokens TokenProvider,
	recorder audit.Recorder,
) (*AuthService, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate decoy password: %w", err)
	}
	digest, salt, err := hasher.Hash(hex.EncodeToString(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to build decoy record: %w", err)
	}

	return &AuthService{
		credentials: credentials,
		limiter:     limiter,
		hasher:      hasher,
		tokens:      tokens,
		audit:       recorder,
		decoy:       CredentialRecord{Digest: digest, Salt: salt},
	}, nil
}
