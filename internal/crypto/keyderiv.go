package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of the random salt stored alongside a
// passphrase-derived key.
const SaltSize = 16

// argon2id parameters, chosen per the library's own recommended baseline
// for interactive use (time=1, memory=64MiB, threads=4 scaled down to the
// single-process runner's typical core count).
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
)

// DeriveKey stretches a passphrase into a 32-byte AES-256 key via Argon2id,
// the process key that wraps every signing key's private half at rest
// (spec §3 "Signing key"; domain-stack wiring: "derives the AES-256-GCM
// process key from the operator-supplied passphrase").
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewSalt generates a fresh random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}
