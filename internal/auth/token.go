package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token verification failures, distinguished internally for diagnostics.
// Handlers collapse all three to a generic unauthenticated response.
var (
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
	ErrTokenScopeInvalid     = errors.New("token scope is invalid")
)

// Token scopes. A refresh token can only be exchanged for a fresh
// access token; it grants no resource access by itself.
const (
	ScopeAccess  = "access"
	ScopeRefresh = "refresh"
)

// Identity is the authenticated subject carried inside a token.
type Identity struct {
	PrincipalID uuid.UUID
	Username    string
	DisplayName string
}

// Claims is the token payload. Expiration is always IssuedAt plus the
// configured lifetime for the scope; a token is never mutated after
// issuance, refresh mints a new one.
type Claims struct {
	PrincipalID uuid.UUID `json:"sub"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"name,omitempty"`
	Scope       string    `json:"scope"`
	jwt.RegisteredClaims
}

// Identity extracts the subject fields from the claims.
func (c *Claims) Identity() Identity {
	return Identity{
		PrincipalID: c.PrincipalID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
	}
}

// TokenProvider issues and verifies signed, time-bounded bearer tokens.
type TokenProvider interface {
	IssueAccessToken(id Identity) (token string, expiresAt time.Time, err error)
	IssueRefreshToken(id Identity) (token string, expiresAt time.Time, err error)
	Validate(token string) (*Claims, error)
}

// TokenConfig carries the signing material and lifetimes. The secret is
// loaded once at process start; rotating it invalidates all outstanding
// tokens and is an operator decision, not runtime behavior.
type TokenConfig struct {
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// JWTProvider implements TokenProvider with HMAC-SHA256 (HS256) compact
// JWTs: header.payload.signature. Signature verification happens before
// any claim is trusted, and the comparison inside the library is
// constant-time (hmac.Equal).
type JWTProvider struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewJWTProvider creates a token provider from the given config.
func NewJWTProvider(cfg TokenConfig) (*JWTProvider, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &JWTProvider{
		secret:     cfg.Secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// IssueAccessToken mints a short-lived token granting resource access.
func (p *JWTProvider) IssueAccessToken(id Identity) (string, time.Time, error) {
	return p.issue(id, ScopeAccess, p.accessTTL)
}

// IssueRefreshToken mints a longer-lived token that can only be
// exchanged for new access tokens.
func (p *JWTProvider) IssueRefreshToken(id Identity) (string, time.Time, error) {
	return p.issue(id, ScopeRefresh, p.refreshTTL)
}

func (p *JWTProvider) issue(id Identity, scope string, ttl time.Duration) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		PrincipalID: id.PrincipalID,
		Username:    id.Username,
		DisplayName: id.DisplayName,
		Scope:       scope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a token. Expired, malformed and
// signature-invalid tokens are rejected with distinct errors; the
// payload of a token with a bad signature is never interpreted.
func (p *JWTProvider) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return p.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignatureInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
