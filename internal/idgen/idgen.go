// Package idgen provides cryptographically random ID and reference generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// referenceAlphabet excludes ambiguous characters (0/O, 1/I/L) so references
// survive being read over the phone to support staff.
const referenceAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// New generates a UUID-like random ID (32 hex chars with dashes).
// Format: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix generates a random ID with a prefix (e.g. "txn_", "card_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Reference generates a human-readable transaction reference ("PB-" plus
// 10 chars from a restricted alphabet, ~49 bits of entropy). Generated before
// any external call so the caller always has a handle to quote back.
func Reference() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = referenceAlphabet[int(v)%len(referenceAlphabet)]
	}
	return "PB-" + string(out)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// AuthCode generates a 6-character upper-hex authorization code stamped on
// approved transactions.
func AuthCode() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%X", b)
}
