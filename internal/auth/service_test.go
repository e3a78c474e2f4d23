package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/authgate/internal/audit"
	"github.com/halcyon-sec/authgate/internal/ratelimit"
)

// fakeCredentialStore is an in-memory CredentialStore that counts
// accesses so tests can assert on what the gateway touched.
type fakeCredentialStore struct {
	mu       sync.Mutex
	records  map[string]CredentialRecord
	fetches  int
	writes   int
	writeErr error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{records: make(map[string]CredentialRecord)}
}

func (s *fakeCredentialStore) Fetch(_ context.Context, username string) (CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	rec, ok := s.records[username]
	if !ok {
		return CredentialRecord{}, ErrCredentialNotFound
	}
	return rec, nil
}

func (s *fakeCredentialStore) Write(_ context.Context, username, digest, salt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	rec, ok := s.records[username]
	if !ok {
		return ErrCredentialNotFound
	}
	rec.Digest = digest
	rec.Salt = salt
	s.records[username] = rec
	return nil
}

func (s *fakeCredentialStore) Create(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Username]; ok {
		return ErrUsernameTaken
	}
	s.records[rec.Username] = rec
	return nil
}

func (s *fakeCredentialStore) get(username string) CredentialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[username]
}

// countingHasher wraps a real hasher and counts derivations, so tests
// can prove the expensive path was (not) taken.
type countingHasher struct {
	inner   PasswordHasher
	mu      sync.Mutex
	verifys int
}

func (h *countingHasher) Hash(password string) (string, string, error) {
	return h.inner.Hash(password)
}

func (h *countingHasher) Verify(password string, rec CredentialRecord) (bool, bool) {
	h.mu.Lock()
	h.verifys++
	h.mu.Unlock()
	return h.inner.Verify(password, rec)
}

func (h *countingHasher) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifys
}

// spyRecorder collects audit actions.
type spyRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *spyRecorder) Record(_ context.Context, action string, _ audit.Params) {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
}

func (r *spyRecorder) has(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a == action {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	service  *AuthService
	creds    *fakeCredentialStore
	hasher   *countingHasher
	recorder *spyRecorder
	tokens   *JWTProvider
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	creds := newFakeCredentialStore()
	// Low iteration hashers would be clamped anyway; use the floor.
	hasher := &countingHasher{inner: NewPBKDF2Hasher(DefaultIterations)}
	recorder := &spyRecorder{}

	tokens, err := NewJWTProvider(TokenConfig{
		Secret:          testSecret,
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Lockout:     time.Hour,
		Retention:   24 * time.Hour,
	})

	service, err := NewAuthService(creds, limiter, hasher, tokens, recorder)
	require.NoError(t, err)

	return &serviceFixture{
		service:  service,
		creds:    creds,
		hasher:   hasher,
		recorder: recorder,
		tokens:   tokens,
	}
}

func (f *serviceFixture) seedUser(t *testing.T, username, password string) {
	t.Helper()
	digest, salt, err := f.hasher.Hash(password)
	require.NoError(t, err)
	require.NoError(t, f.creds.Create(context.Background(), CredentialRecord{
		Username:    username,
		PrincipalID: uuid.New(),
		DisplayName: "Test User",
		Digest:      digest,
		Salt:        salt,
	}))
}

func (f *serviceFixture) seedLegacyUser(t *testing.T, username, password string) {
	t.Helper()
	sum := sha256.Sum256([]byte(password))
	require.NoError(t, f.creds.Create(context.Background(), CredentialRecord{
		Username:    username,
		PrincipalID: uuid.New(),
		DisplayName: "Legacy User",
		Digest:      hex.EncodeToString(sum[:]),
	}))
}

func TestLoginSuccess(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	result, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.True(t, result.ExpiresAt.After(time.Now()))

	claims, err := f.service.Authorize(context.Background(), result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	assert.True(t, f.recorder.has("auth.login.success"))
}

func TestLoginWrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	_, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownUserMatchesWrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	_, unknownErr := f.service.Login(context.Background(), "203.0.113.7", "nobody", "whatever")
	_, wrongErr := f.service.Login(context.Background(), "198.51.100.9", "alice", "wrong")

	// Identical denial for both, so responses cannot enumerate users.
	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr, wrongErr)
}

func TestLoginUnknownUserBurnsDerivation(t *testing.T) {
	f := newServiceFixture(t)

	before := f.hasher.count()
	_, err := f.service.Login(context.Background(), "203.0.113.7", "nobody", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, before+1, f.hasher.count(), "decoy verification keeps timing uniform")
}

func TestLoginUnknownUserConsumesAttempts(t *testing.T) {
	f := newServiceFixture(t)

	// Failed attempts against a nonexistent user still count toward
	// lockout, exactly as wrong passwords would.
	for i := 0; i < 5; i++ {
		_, err := f.service.Login(context.Background(), "203.0.113.7", "nobody", "whatever")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.service.Login(context.Background(), "203.0.113.7", "nobody", "whatever")
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))
}

func TestLockedOutLoginSkipsStorageAndHashing(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	for i := 0; i < 6; i++ {
		_, _ = f.service.Login(context.Background(), "203.0.113.7", "alice", "wrong")
	}

	fetchesBefore := f.creds.fetches
	verifysBefore := f.hasher.count()

	_, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "correct horse battery staple")
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)

	assert.Equal(t, fetchesBefore, f.creds.fetches, "locked-out requests must not touch the credential store")
	assert.Equal(t, verifysBefore, f.hasher.count(), "locked-out requests must not pay for a derivation")
	assert.True(t, f.recorder.has("auth.login.locked_out"))
}

func TestLoginResetsLimiter(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	for i := 0; i < 4; i++ {
		_, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "correct horse battery staple")
	require.NoError(t, err)

	// The budget is fresh again: five more failures before lockout.
	for i := 0; i < 5; i++ {
		_, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d after reset", i+1)
	}
}

func TestLoginMigratesLegacyRecord(t *testing.T) {
	f := newServiceFixture(t)
	f.seedLegacyUser(t, "bob", "secret")

	result, err := f.service.Login(context.Background(), "203.0.113.7", "bob", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)

	rec := f.creds.get("bob")
	assert.NotEmpty(t, rec.Salt, "record must have been rewritten in the salted format")
	assert.Len(t, rec.Digest, 64)

	matched, shouldMigrate := f.hasher.inner.Verify("secret", rec)
	assert.True(t, matched)
	assert.False(t, shouldMigrate, "migrated record verifies without another upgrade")
	assert.True(t, f.recorder.has("auth.credential.migrated"))
}

func TestLoginMigrationFailureIsNonFatal(t *testing.T) {
	f := newServiceFixture(t)
	f.seedLegacyUser(t, "bob", "secret")
	f.creds.writeErr = errors.New("disk on fire")

	result, err := f.service.Login(context.Background(), "203.0.113.7", "bob", "secret")
	require.NoError(t, err, "the user is authenticated even when the upgrade write fails")
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t, 1, f.creds.writes)

	// The record is untouched, so the next login retries the upgrade.
	f.creds.writeErr = nil
	_, err = f.service.Login(context.Background(), "203.0.113.7", "bob", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, f.creds.get("bob").Salt)
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	login, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "correct horse battery staple")
	require.NoError(t, err)

	refreshed, err := f.service.Refresh(context.Background(), login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken, "refreshing never renews the refresh token")

	claims, err := f.service.Authorize(context.Background(), refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	login, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "correct horse battery staple")
	require.NoError(t, err)

	_, err = f.service.Refresh(context.Background(), login.AccessToken)
	assert.ErrorIs(t, err, ErrTokenScopeInvalid)
}

func TestAuthorizeRejectsRefreshToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "correct horse battery staple")

	login, err := f.service.Login(context.Background(), "203.0.113.7", "alice", "correct horse battery staple")
	require.NoError(t, err)

	_, err = f.service.Authorize(context.Background(), login.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenScopeInvalid)
}

func TestRegisterAndLogin(t *testing.T) {
	f := newServiceFixture(t)

	principalID, err := f.service.Register(context.Background(), "carol", "Carol", "a long enough password")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, principalID)

	result, err := f.service.Login(context.Background(), "203.0.113.7", "carol", "a long enough password")
	require.NoError(t, err)

	claims, err := f.service.Authorize(context.Background(), result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, principalID, claims.PrincipalID)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Register(context.Background(), "carol", "Carol", "a long enough password")
	require.NoError(t, err)

	_, err = f.service.Register(context.Background(), "carol", "Other Carol", "another password here")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "old password here!")

	err := f.service.ChangePassword(context.Background(), "alice", "old password here!", "new password here!")
	require.NoError(t, err)

	_, err = f.service.Login(context.Background(), "203.0.113.7", "alice", "old password here!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.service.Login(context.Background(), "198.51.100.9", "alice", "new password here!")
	assert.NoError(t, err)
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice", "old password here!")

	err := f.service.ChangePassword(context.Background(), "alice", "not the old one", "new password here!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
