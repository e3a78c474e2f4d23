package auth

import "crypto/subtle"

// SecureCompare reports whether two strings are equal in time that does
// not depend on where they first differ. Every digest comparison in this
// package must go through here; a lexical == on secret material is a
// correctness bug, not a style issue.
//
// A length mismatch returns early, which is fine: lengths of stored
// digests are public knowledge, positions of differing bytes are not.
func SecureCompare(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// SecureCompareBytes is the []byte form of SecureCompare, for raw
// signature material.
func SecureCompareBytes(provided, expected []byte) bool {
	return subtle.ConstantTimeCompare(provided, expected) == 1
}
