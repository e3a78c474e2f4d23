package auth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 work factor. This is a floor, not
	// a ceiling: constructors clamp anything lower back up to it, and
	// the value should only ever increase over the system's lifetime.
	DefaultIterations = 10000

	// saltLength is the number of alphanumeric characters in a
	// generated salt. 62^32 is far beyond any realistic reuse risk.
	saltLength = 32

	// digestLength is the PBKDF2 output size in bytes; hex-encoded it
	// fills the 64-char digest column.
	digestLength = 32
)

const saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Format tags how a credential's digest and salt are to be interpreted.
// It is resolved once at record-load time; nothing downstream re-probes
// the raw fields.
type Format int

const (
	// FormatPBKDF2 is the target format: salted, keyed, iterated.
	FormatPBKDF2 Format = iota
	// FormatLegacy covers the old unsalted single-round digests.
	FormatLegacy
)

// CredentialRecord is one principal's stored secret material. It is
// mutated only by a login-triggered migration or an explicit password
// change, never by reads.
type CredentialRecord struct {
	Username    string
	PrincipalID uuid.UUID
	DisplayName string
	Digest      string
	Salt        string
}

// Format derives the storage format from the record itself: a non-empty
// salt means the keyed derivation, an empty salt means a legacy digest.
// There is deliberately no separate version column; the presence of the
// salt is the discriminator, shared with any other system reading the
// same table.
func (r CredentialRecord) Format() Format {
	if r.Salt != "" {
		return FormatPBKDF2
	}
	return FormatLegacy
}

// PasswordHasher turns plaintext passwords into verification verdicts
// and mints fresh salted records. Implementations must be free of
// storage side effects: Verify only signals that a migration is wanted,
// the caller performs the write.
type PasswordHasher interface {
	Hash(password string) (digest, salt string, err error)
	Verify(password string, rec CredentialRecord) (matched, shouldMigrate bool)
}

// legacySchemes is the frozen probe order for unsalted records:
// SHA-256, then SHA-1, then MD5, newest acceptable first. This order
// is a compatibility contract with anything else sharing the credential
// table; reordering it changes which digest wins for colliding rows.
// Plaintext "digests" are not in the list and can never match.
var legacySchemes = []struct {
	name string
	sum  func([]byte) string
}{
	{"sha256", func(b []byte) string {
		h := sha256.Sum256(b)
		return hex.EncodeToString(h[:])
	}},
	{"sha1", func(b []byte) string {
		h := sha1.Sum(b)
		return hex.EncodeToString(h[:])
	}},
	{"md5", func(b []byte) string {
		h := md5.Sum(b)
		return hex.EncodeToString(h[:])
	}},
}

// PBKDF2Hasher implements PasswordHasher with PBKDF2 (HMAC-SHA256 core)
// plus the legacy probe chain for backward compatibility.
type PBKDF2Hasher struct {
	iterations int
}

// NewPBKDF2Hasher creates a hasher with the given work factor. Values
// below DefaultIterations are clamped up to it.
func NewPBKDF2Hasher(iterations int) *PBKDF2Hasher {
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return &PBKDF2Hasher{iterations: iterations}
}

// Hash derives a fresh salted digest for the password. The digest is
// hex-encoded (64 chars); the salt is 32 alphanumeric chars.
func (h *PBKDF2Hasher) Hash(password string) (string, string, error) {
	salt, err := generateSalt()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return h.derive(password, salt), salt, nil
}

// Verify checks the password against the record and reports whether a
// format upgrade is wanted. It performs no I/O.
//
// Salted records are recomputed with the same parameters as Hash; a
// mismatch there never triggers migration, the record is already in the
// target format. Unsalted records are probed against each legacy scheme
// in the frozen order; the first constant-time match wins and flags the
// record for migration.
func (h *PBKDF2Hasher) Verify(password string, rec CredentialRecord) (bool, bool) {
	if rec.Format() == FormatPBKDF2 {
		derived := h.derive(password, rec.Salt)
		return SecureCompare(derived, rec.Digest), false
	}

	for _, scheme := range legacySchemes {
		if SecureCompare(scheme.sum([]byte(password)), rec.Digest) {
			return true, true
		}
	}
	return false, false
}

func (h *PBKDF2Hasher) derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), h.iterations, digestLength, sha256.New)
	return hex.EncodeToString(key)
}

// generateSalt draws saltLength characters from the alphanumeric
// alphabet using rejection sampling, so every character is uniform.
func generateSalt() (string, error) {
	salt := make([]byte, 0, saltLength)
	buf := make([]byte, saltLength*2)

	// 248 is the largest multiple of 62 below 256; bytes at or above it
	// are discarded to avoid modulo bias.
	const limit = byte(248)

	for len(salt) < saltLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			salt = append(salt, saltAlphabet[int(b)%len(saltAlphabet)])
			if len(salt) == saltLength {
				break
			}
		}
	}
	return string(salt), nil
}
