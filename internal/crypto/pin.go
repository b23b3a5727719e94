// Package crypto holds the small amount of cryptography ussdpilot needs:
// signed API tokens and keyed PIN digests.
package crypto

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// PINDigest is a keyed hash of a PIN. Session state stores digests so that
// the clear PIN never outlives the reply that carried it.
type PINDigest [32]byte

// DigestPIN hashes pin keyed by the session id, so equal PINs in different
// sessions yield different digests.
func DigestPIN(sessionID, pin string) PINDigest {
	key := []byte(sessionID)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only possible for keys longer than 64 bytes, handled above.
		panic(err)
	}
	_, _ = h.Write([]byte(pin))
	var out PINDigest
	copy(out[:], h.Sum(nil))
	return out
}

// IsZero reports whether d was never set.
func (d PINDigest) IsZero() bool {
	return d == PINDigest{}
}

// Equal compares digests in constant time.
func (d PINDigest) Equal(other PINDigest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}
