package registry

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/colliery-io/cloacina-sub003/internal/crypto"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/internal/trust"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// Signature is the detached JSON signature object of spec §4.5, accepted
// on the external Runner.RegisterPackage surface. It mirrors
// internal/crypto.DetachedSignature field-for-field but is declared here
// so pkg/runner callers depend on internal/registry, not internal/crypto,
// for the shape of what they pass in.
type Signature struct {
	Version        int    `json:"version"`
	Algorithm      string `json:"algorithm"`
	PackageHash    string `json:"package_hash"`
	KeyFingerprint string `json:"key_fingerprint"`
	Signature      string `json:"signature"` // base64, matching the wire format's "base64 64-byte" field
	SignedAt       string `json:"signed_at"` // RFC3339
}

// Metadata is the external, read-only view of a registered package (spec
// §3 "Package registry entry"), returned from Runner.ListPackages.
type Metadata struct {
	ID          cloaca.ID
	Name        string
	Version     string
	Description string
	Author      string
	Fingerprint string
	CreatedAt   cloaca.Timestamp
}

// Service implements the package registry's load protocol (spec §4.5
// "Load protocol"): extract manifest, verify package_hash, locate the
// detached signature, resolve the signer against the caller's trust
// chain, reject with a typed VerificationError on any failure.
type Service struct {
	store    storage.Registry
	resolver *trust.Resolver
}

// New constructs a Service over store's registry operations, resolving
// trust chains via resolver.
func New(store storage.Registry, resolver *trust.Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// Register verifies sig against packageBytes and the verifying org's trust
// chain, then stores the blob and metadata in one logical unit (spec §4.5
// "Storage": store(bytes) -> id, plus the metadata record). tenant scopes
// the (name, version) uniqueness constraint; org is the trust-chain
// verifying organization, which may differ from tenant in a multi-tenant
// deployment where one org's packages are installed into another's
// schema.
func (s *Service) Register(ctx context.Context, tenant, org string, packageBytes []byte, sig Signature, author string, extraMetadata cloaca.JSONBlob) (cloaca.ID, error) {
	manifest, _, err := ExtractManifest(packageBytes)
	if err != nil {
		return cloaca.NilID, &cloaca.RegistryError{Code: cloaca.RegistryCodeIntegrity, Msg: err.Error()}
	}

	if err := s.verify(ctx, org, packageBytes, sig); err != nil {
		return cloaca.NilID, err
	}

	blobID := cloaca.NewID()
	if err := s.store.StoreBlob(ctx, blobID, packageBytes); err != nil {
		return cloaca.NilID, &cloaca.StorageError{Op: "registry.store_blob", Code: cloaca.StorageCodeTransaction, Err: err}
	}

	metaID := cloaca.NewID()
	meta := storage.PackageMetadata{
		ID:          metaID,
		BlobID:      blobID,
		Tenant:      tenant,
		Name:        manifest.Package.Name,
		Version:     manifest.Package.Version,
		Description: manifest.Package.Description,
		Author:      author,
		Metadata:    extraMetadata,
		CreatedAt:   cloaca.Now(),
		Fingerprint: sig.KeyFingerprint,
	}
	if err := s.store.PutPackageMetadata(ctx, meta); err != nil {
		_ = s.store.DeleteBlob(ctx, blobID)
		return cloaca.NilID, &cloaca.StorageError{Op: "registry.put_metadata", Code: cloaca.StorageCodeConflict, Err: err}
	}

	signature, err := decodeSignatureBytes(sig.Signature)
	if err != nil {
		return cloaca.NilID, &cloaca.VerificationError{Code: cloaca.VerificationCodeMalformedSignature, Msg: err.Error()}
	}
	signedAt, err := cloaca.ParseTimestamp(sig.SignedAt)
	if err != nil {
		signedAt = cloaca.Now()
	}
	if err := s.store.PutPackageSignature(ctx, storage.PackageSignature{
		PackageHash:       sig.PackageHash,
		SignerFingerprint: sig.KeyFingerprint,
		Signature:         signature,
		SignedAt:          signedAt,
	}); err != nil {
		return cloaca.NilID, &cloaca.StorageError{Op: "registry.put_signature", Code: cloaca.StorageCodeTransaction, Err: err}
	}

	return metaID, nil
}

// Load implements spec §4.5 "Load protocol" for an already-registered
// package: re-verifies package_hash and re-resolves the signer's trust
// chain, so a key revoked after registration blocks every subsequent
// dispatch even though the blob itself is unchanged (spec §3 "packages
// loaded into a running process are weak references validated by
// fingerprint on every resolution").
func (s *Service) Load(ctx context.Context, org, tenant, name, version string) ([]byte, *Manifest, error) {
	meta, err := s.store.GetPackageMetadata(ctx, tenant, name, version)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil, &cloaca.RegistryError{Code: cloaca.RegistryCodeUnknownPackage, Msg: fmt.Sprintf("%s/%s@%s", tenant, name, version)}
		}
		return nil, nil, &cloaca.StorageError{Op: "registry.get_metadata", Code: cloaca.StorageCodeTransaction, Err: err}
	}

	packageBytes, err := s.store.RetrieveBlob(ctx, meta.BlobID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil, &cloaca.RegistryError{Code: cloaca.RegistryCodeBlobNotFound, Msg: meta.BlobID.String()}
		}
		return nil, nil, &cloaca.StorageError{Op: "registry.retrieve_blob", Code: cloaca.StorageCodeTransaction, Err: err}
	}

	manifest, _, err := ExtractManifest(packageBytes)
	if err != nil {
		return nil, nil, &cloaca.RegistryError{Code: cloaca.RegistryCodeIntegrity, Msg: err.Error()}
	}

	packageHash := crypto.PackageHash(packageBytes)
	sigRow, err := s.store.GetPackageSignature(ctx, packageHash)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil, &cloaca.VerificationError{Code: cloaca.VerificationCodeNotSigned, Msg: "no signature on record for this package hash"}
		}
		return nil, nil, &cloaca.StorageError{Op: "registry.get_signature", Code: cloaca.StorageCodeTransaction, Err: err}
	}

	if err := s.verifyAgainstSignerKey(ctx, org, packageBytes, sigRow); err != nil {
		return nil, nil, err
	}

	return packageBytes, manifest, nil
}

// verify runs the registration-time half of the load protocol against a
// caller-supplied Signature (not yet persisted as a storage.PackageSignature
// row): hash match, resolve the signing key, check it is not revoked, and
// resolve the trust chain for org.
func (s *Service) verify(ctx context.Context, org string, packageBytes []byte, sig Signature) error {
	if sig.Signature == "" || sig.KeyFingerprint == "" {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeNotSigned, Msg: "package carries no signature"}
	}
	actualHash := crypto.PackageHash(packageBytes)
	if sig.PackageHash != "" && sig.PackageHash != actualHash {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeHashMismatch, Msg: fmt.Sprintf("signature declares hash %s, computed %s", sig.PackageHash, actualHash)}
	}

	signatureBytes, err := decodeSignatureBytes(sig.Signature)
	if err != nil {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeMalformedSignature, Msg: err.Error()}
	}

	key, err := s.store.GetSigningKey(ctx, sig.KeyFingerprint)
	if err != nil {
		if err == storage.ErrNotFound {
			return &cloaca.VerificationError{Code: cloaca.VerificationCodeUnknownSigner, Msg: sig.KeyFingerprint}
		}
		return &cloaca.StorageError{Op: "registry.get_signing_key", Code: cloaca.StorageCodeTransaction, Err: err}
	}
	if key.Status == storage.KeyRevoked {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeRevokedKey, Msg: sig.KeyFingerprint}
	}
	if !crypto.VerifySignature(ed25519.PublicKey(key.PublicKey), packageBytes, signatureBytes) {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeHashMismatch, Msg: "signature does not verify against the signer's public key"}
	}

	return s.resolveTrust(ctx, org, sig.KeyFingerprint)
}

// verifyAgainstSignerKey runs the load-time half of the protocol against a
// previously persisted storage.PackageSignature row.
func (s *Service) verifyAgainstSignerKey(ctx context.Context, org string, packageBytes []byte, sigRow storage.PackageSignature) error {
	key, err := s.store.GetSigningKey(ctx, sigRow.SignerFingerprint)
	if err != nil {
		if err == storage.ErrNotFound {
			return &cloaca.VerificationError{Code: cloaca.VerificationCodeUnknownSigner, Msg: sigRow.SignerFingerprint}
		}
		return &cloaca.StorageError{Op: "registry.get_signing_key", Code: cloaca.StorageCodeTransaction, Err: err}
	}
	if key.Status == storage.KeyRevoked {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeRevokedKey, Msg: sigRow.SignerFingerprint}
	}
	if !crypto.VerifySignature(ed25519.PublicKey(key.PublicKey), packageBytes, sigRow.Signature) {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeHashMismatch, Msg: "stored signature no longer verifies against the package bytes"}
	}
	return s.resolveTrust(ctx, org, sigRow.SignerFingerprint)
}

func (s *Service) resolveTrust(ctx context.Context, org, fingerprint string) error {
	trusted, err := s.resolver.Resolve(ctx, org, fingerprint)
	if err != nil {
		return &cloaca.StorageError{Op: "registry.resolve_trust", Code: cloaca.StorageCodeTransaction, Err: err}
	}
	if !trusted {
		return &cloaca.VerificationError{Code: cloaca.VerificationCodeUntrusted, Msg: fmt.Sprintf("fingerprint %s is not reachable from org %s's trust chain", fingerprint, org)}
	}
	return nil
}

// List returns every package registered under tenant (spec "list-packages").
func (s *Service) List(ctx context.Context, tenant string) ([]Metadata, error) {
	rows, err := s.store.ListPackageMetadata(ctx, tenant)
	if err != nil {
		return nil, &cloaca.StorageError{Op: "registry.list_metadata", Code: cloaca.StorageCodeTransaction, Err: err}
	}
	out := make([]Metadata, 0, len(rows))
	for _, r := range rows {
		out = append(out, Metadata{
			ID:          r.ID,
			Name:        r.Name,
			Version:     r.Version,
			Description: r.Description,
			Author:      r.Author,
			Fingerprint: r.Fingerprint,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

func decodeSignatureBytes(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("registry: decode signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("registry: signature is %d bytes, want %d", len(raw), ed25519.SignatureSize)
	}
	return raw, nil
}

// SignatureFromDetached converts an internal/crypto.DetachedSignature into
// the external Signature shape RegisterPackage accepts, used by key-owning
// tooling that signs a package before handing it to a Runner.
func SignatureFromDetached(d crypto.DetachedSignature) Signature {
	return Signature{
		Version:        d.Version,
		Algorithm:      d.Algorithm,
		PackageHash:    d.PackageHash,
		KeyFingerprint: d.KeyFingerprint,
		Signature:      base64.StdEncoding.EncodeToString(d.Signature),
		SignedAt:       d.SignedAt.String(),
	}
}
