// Package crypto implements the primitives the registry and trust layers
// build on: Ed25519 signing/verification, SHA-256 key fingerprints, and
// AES-256-GCM encryption of private key material at rest (spec §3 "Signing
// key", §4.5 "Signature format"). Grounded on the teacher's use of the
// standard library crypto packages directly rather than a third-party
// signing library — see DESIGN.md for why no pack dependency fits better.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// KeyPair is a generated Ed25519 signing key, identified by the SHA-256
// fingerprint of its public half (spec §3 "Signing key").
type KeyPair struct {
	Fingerprint string
	PublicKey   ed25519.PublicKey
	PrivateKey  ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	return KeyPair{Fingerprint: Fingerprint(pub), PublicKey: pub, PrivateKey: priv}, nil
}

// Fingerprint computes the SHA-256 hex digest of an Ed25519 public key
// (spec GLOSSARY "Package fingerprint").
func Fingerprint(publicKey ed25519.PublicKey) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// Sign produces a detached Ed25519 signature over sha256(packageBytes), the
// same digest VerifySignature checks (spec §4.5 "Signature format").
func Sign(priv ed25519.PrivateKey, packageBytes []byte) []byte {
	digest := sha256.Sum256(packageBytes)
	return ed25519.Sign(priv, digest[:])
}

// VerifySignature reports whether signature is a valid Ed25519 signature by
// publicKey over sha256(packageBytes) (spec §4.5: "ed25519_verify(public_key
// ..., sha256(package_bytes))").
func VerifySignature(publicKey ed25519.PublicKey, packageBytes, signature []byte) bool {
	digest := sha256.Sum256(packageBytes)
	return ed25519.Verify(publicKey, digest[:], signature)
}

// PackageHash returns the SHA-256 hex digest of a package's bytes, the
// package_hash field of the detached signature format.
func PackageHash(packageBytes []byte) string {
	sum := sha256.Sum256(packageBytes)
	return hex.EncodeToString(sum[:])
}

// DetachedSignature is the JSON-serializable signature envelope of spec
// §4.5: `{version:1, algorithm:"ed25519", package_hash, key_fingerprint,
// signature, signed_at}`.
type DetachedSignature struct {
	Version        int             `json:"version"`
	Algorithm      string          `json:"algorithm"`
	PackageHash    string          `json:"package_hash"`
	KeyFingerprint string          `json:"key_fingerprint"`
	Signature      []byte          `json:"signature"`
	SignedAt       cloaca.Timestamp `json:"signed_at"`
}

// NewDetachedSignature builds the envelope for a freshly produced signature.
func NewDetachedSignature(keyFingerprint, packageHash string, signature []byte, signedAt cloaca.Timestamp) DetachedSignature {
	return DetachedSignature{
		Version:        1,
		Algorithm:      "ed25519",
		PackageHash:    packageHash,
		KeyFingerprint: keyFingerprint,
		Signature:      signature,
		SignedAt:       signedAt,
	}
}
