package storage

import "github.com/colliery-io/cloacina-sub003/pkg/cloaca"

// KeyStatus is the lifecycle state of a signing key or trust relationship
// (spec §3: "Active or Revoked", terminal once Revoked).
type KeyStatus string

const (
	KeyActive  KeyStatus = "Active"
	KeyRevoked KeyStatus = "Revoked"
)

// PackageMetadata binds a (name, version) pair, unique per tenant, to a
// registry blob id (spec §3 "Package registry entry").
type PackageMetadata struct {
	ID          cloaca.ID
	BlobID      cloaca.ID
	Tenant      string
	Name        string
	Version     string
	Description string
	Author      string
	Metadata    cloaca.JSONBlob
	CreatedAt   cloaca.Timestamp
	Fingerprint string // fingerprint of the key that signed the package
}

// SigningKey is an Ed25519 key pair identified by its public key's
// SHA-256 fingerprint (spec §3 "Signing key"). PrivateKeyCiphertext holds
// the AES-256-GCM-encrypted private key in nonce‖ciphertext‖tag layout.
type SigningKey struct {
	Fingerprint            string
	PublicKey               []byte
	PrivateKeyCiphertext    []byte
	Status                  KeyStatus
	RevokedAt               cloaca.Timestamp
}

// TrustedKey is a public key fingerprint an organization has chosen to
// trust (spec §3 "Trusted key").
type TrustedKey struct {
	Org         string
	Fingerprint string
	Status      KeyStatus
}

// KeyTrustACL is a directed parent-org -> child-org trust edge (spec §3
// "Key-trust ACL").
type KeyTrustACL struct {
	ParentOrg string
	ChildOrg  string
	Status    KeyStatus
}

// PackageSignature is a detached Ed25519 signature over a package's bytes
// (spec §3 "Package signature", §4.5 "Signature format").
type PackageSignature struct {
	PackageHash      string
	SignerFingerprint string
	Signature        []byte
	SignedAt         cloaca.Timestamp
}
