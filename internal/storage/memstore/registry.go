package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// errDuplicatePackage mirrors the UNIQUE(tenant, name, version) constraint
// sqlitestore/sqlstore enforce at the schema level (spec §3 "Package
// registry entry" invariant: "(package name, version) unique per tenant
// scope").
var errDuplicatePackage = errors.New("memstore: package name/version already registered for tenant")

func metadataKey(tenant, name, version string) string { return tenant + "/" + name + "/" + version }
func trustedKeyKey(org, fingerprint string) string     { return org + "/" + fingerprint }
func trustACLKey(parentOrg, childOrg string) string    { return parentOrg + "/" + childOrg }

// StoreBlob implements storage.Registry.
func (s *Store) StoreBlob(ctx context.Context, id cloaca.ID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	cp := append([]byte(nil), data...)
	s.blobs[id] = cp
	return nil
}

// RetrieveBlob implements storage.Registry.
func (s *Store) RetrieveBlob(ctx context.Context, id cloaca.ID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	data, ok := s.blobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// DeleteBlob implements storage.Registry.
func (s *Store) DeleteBlob(ctx context.Context, id cloaca.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	delete(s.blobs, id)
	return nil
}

// PutPackageMetadata implements storage.Registry.
func (s *Store) PutPackageMetadata(ctx context.Context, meta storage.PackageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	key := metadataKey(meta.Tenant, meta.Name, meta.Version)
	if _, exists := s.metadata[key]; exists {
		return fmt.Errorf("%w: %s/%s@%s", errDuplicatePackage, meta.Tenant, meta.Name, meta.Version)
	}
	s.metadata[key] = meta
	return nil
}

// GetPackageMetadata implements storage.Registry.
func (s *Store) GetPackageMetadata(ctx context.Context, tenant, name, version string) (storage.PackageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return storage.PackageMetadata{}, err
	}
	meta, ok := s.metadata[metadataKey(tenant, name, version)]
	if !ok {
		return storage.PackageMetadata{}, storage.ErrNotFound
	}
	return meta, nil
}

// ListPackageMetadata implements storage.Registry.
func (s *Store) ListPackageMetadata(ctx context.Context, tenant string) ([]storage.PackageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	var out []storage.PackageMetadata
	for _, meta := range s.metadata {
		if meta.Tenant == tenant {
			out = append(out, meta)
		}
	}
	sortPackageMetadata(out)
	return out, nil
}

func sortPackageMetadata(metas []storage.PackageMetadata) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0; j-- {
			a, b := metas[j-1], metas[j]
			if a.Name < b.Name || (a.Name == b.Name && a.Version <= b.Version) {
				break
			}
			metas[j-1], metas[j] = metas[j], metas[j-1]
		}
	}
}

// PutSigningKey implements storage.Registry.
func (s *Store) PutSigningKey(ctx context.Context, key storage.SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	s.signing[key.Fingerprint] = key
	return nil
}

// GetSigningKey implements storage.Registry.
func (s *Store) GetSigningKey(ctx context.Context, fingerprint string) (storage.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return storage.SigningKey{}, err
	}
	key, ok := s.signing[fingerprint]
	if !ok {
		return storage.SigningKey{}, storage.ErrNotFound
	}
	return key, nil
}

// RevokeSigningKey implements storage.Registry.
func (s *Store) RevokeSigningKey(ctx context.Context, fingerprint string, at cloaca.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	key, ok := s.signing[fingerprint]
	if !ok {
		return storage.ErrNotFound
	}
	key.Status = storage.KeyRevoked
	key.RevokedAt = at
	s.signing[fingerprint] = key
	return nil
}

// PutTrustedKey implements storage.Registry.
func (s *Store) PutTrustedKey(ctx context.Context, org, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	s.trusted[trustedKeyKey(org, fingerprint)] = storage.TrustedKey{Org: org, Fingerprint: fingerprint, Status: storage.KeyActive}
	return nil
}

// ListTrustedKeys implements storage.Registry.
func (s *Store) ListTrustedKeys(ctx context.Context, org string) ([]storage.TrustedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	var out []storage.TrustedKey
	for _, key := range s.trusted {
		if key.Org == org {
			out = append(out, key)
		}
	}
	return out, nil
}

// RevokeTrustedKey implements storage.Registry.
func (s *Store) RevokeTrustedKey(ctx context.Context, org, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	key, ok := s.trusted[trustedKeyKey(org, fingerprint)]
	if !ok {
		return storage.ErrNotFound
	}
	key.Status = storage.KeyRevoked
	s.trusted[trustedKeyKey(org, fingerprint)] = key
	return nil
}

// PutTrustACL implements storage.Registry.
func (s *Store) PutTrustACL(ctx context.Context, parentOrg, childOrg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	s.trustACL[trustACLKey(parentOrg, childOrg)] = storage.KeyTrustACL{ParentOrg: parentOrg, ChildOrg: childOrg, Status: storage.KeyActive}
	return nil
}

// ListTrustEdges implements storage.Registry.
func (s *Store) ListTrustEdges(ctx context.Context, parentOrg string) ([]storage.KeyTrustACL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	var out []storage.KeyTrustACL
	for _, acl := range s.trustACL {
		if acl.ParentOrg == parentOrg && acl.Status == storage.KeyActive {
			out = append(out, acl)
		}
	}
	return out, nil
}

// RevokeTrustACL implements storage.Registry.
func (s *Store) RevokeTrustACL(ctx context.Context, parentOrg, childOrg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	acl, ok := s.trustACL[trustACLKey(parentOrg, childOrg)]
	if !ok {
		return storage.ErrNotFound
	}
	acl.Status = storage.KeyRevoked
	s.trustACL[trustACLKey(parentOrg, childOrg)] = acl
	return nil
}

// PutPackageSignature implements storage.Registry.
func (s *Store) PutPackageSignature(ctx context.Context, sig storage.PackageSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	s.signature[sig.PackageHash] = sig
	return nil
}

// GetPackageSignature implements storage.Registry.
func (s *Store) GetPackageSignature(ctx context.Context, packageHash string) (storage.PackageSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return storage.PackageSignature{}, err
	}
	sig, ok := s.signature[packageHash]
	if !ok {
		return storage.PackageSignature{}, storage.ErrNotFound
	}
	return sig, nil
}

var _ storage.Registry = (*Store)(nil)
