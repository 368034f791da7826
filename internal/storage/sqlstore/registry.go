package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// StoreBlob implements storage.Registry.
func (s *Store) StoreBlob(ctx context.Context, id cloaca.ID, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO registry_blobs (id, data) VALUES (?, ?)`, id, data)
	if err != nil {
		return fmt.Errorf("sqlstore: store blob: %w", err)
	}
	return nil
}

// RetrieveBlob implements storage.Registry.
func (s *Store) RetrieveBlob(ctx context.Context, id cloaca.ID) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM registry_blobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: retrieve blob: %w", err)
	}
	return data, nil
}

// DeleteBlob implements storage.Registry.
func (s *Store) DeleteBlob(ctx context.Context, id cloaca.ID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM registry_blobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlstore: delete blob: %w", err)
	}
	return nil
}

// PutPackageMetadata implements storage.Registry.
func (s *Store) PutPackageMetadata(ctx context.Context, meta storage.PackageMetadata) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registry_metadata (id, blob_id, tenant, name, version, description, author, metadata, created_at, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.BlobID, meta.Tenant, meta.Name, meta.Version, meta.Description, meta.Author, meta.Metadata, meta.CreatedAt, meta.Fingerprint,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: put package metadata: %w", err)
	}
	return nil
}

// GetPackageMetadata implements storage.Registry.
func (s *Store) GetPackageMetadata(ctx context.Context, tenant, name, version string) (storage.PackageMetadata, error) {
	if err := s.checkOpen(); err != nil {
		return storage.PackageMetadata{}, err
	}
	var meta storage.PackageMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT id, blob_id, tenant, name, version, description, author, metadata, created_at, fingerprint
		FROM registry_metadata WHERE tenant = ? AND name = ? AND version = ?`, tenant, name, version,
	).Scan(&meta.ID, &meta.BlobID, &meta.Tenant, &meta.Name, &meta.Version, &meta.Description, &meta.Author, &meta.Metadata, &meta.CreatedAt, &meta.Fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PackageMetadata{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.PackageMetadata{}, fmt.Errorf("sqlstore: get package metadata: %w", err)
	}
	return meta, nil
}

// ListPackageMetadata implements storage.Registry.
func (s *Store) ListPackageMetadata(ctx context.Context, tenant string) ([]storage.PackageMetadata, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, blob_id, tenant, name, version, description, author, metadata, created_at, fingerprint
		FROM registry_metadata WHERE tenant = ? ORDER BY name, version`, tenant)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list package metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.PackageMetadata
	for rows.Next() {
		var meta storage.PackageMetadata
		if err := rows.Scan(&meta.ID, &meta.BlobID, &meta.Tenant, &meta.Name, &meta.Version, &meta.Description, &meta.Author, &meta.Metadata, &meta.CreatedAt, &meta.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan package metadata: %w", err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// PutSigningKey implements storage.Registry.
func (s *Store) PutSigningKey(ctx context.Context, key storage.SigningKey) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_keys (fingerprint, public_key, private_key_ciphertext, status, revoked_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.Fingerprint, key.PublicKey, key.PrivateKeyCiphertext, string(key.Status), key.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: put signing key: %w", err)
	}
	return nil
}

// GetSigningKey implements storage.Registry.
func (s *Store) GetSigningKey(ctx context.Context, fingerprint string) (storage.SigningKey, error) {
	if err := s.checkOpen(); err != nil {
		return storage.SigningKey{}, err
	}
	var (
		key    storage.SigningKey
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, public_key, private_key_ciphertext, status, revoked_at
		FROM signing_keys WHERE fingerprint = ?`, fingerprint,
	).Scan(&key.Fingerprint, &key.PublicKey, &key.PrivateKeyCiphertext, &status, &key.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SigningKey{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SigningKey{}, fmt.Errorf("sqlstore: get signing key: %w", err)
	}
	key.Status = storage.KeyStatus(status)
	return key, nil
}

// RevokeSigningKey implements storage.Registry.
func (s *Store) RevokeSigningKey(ctx context.Context, fingerprint string, at cloaca.Timestamp) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE signing_keys SET status = ?, revoked_at = ? WHERE fingerprint = ?`, string(storage.KeyRevoked), at, fingerprint)
	if err != nil {
		return fmt.Errorf("sqlstore: revoke signing key: %w", err)
	}
	return nil
}

// PutTrustedKey implements storage.Registry.
func (s *Store) PutTrustedKey(ctx context.Context, org, fingerprint string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trusted_keys (org, fingerprint, status) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status)`,
		org, fingerprint, string(storage.KeyActive),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: put trusted key: %w", err)
	}
	return nil
}

// ListTrustedKeys implements storage.Registry.
func (s *Store) ListTrustedKeys(ctx context.Context, org string) ([]storage.TrustedKey, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT org, fingerprint, status FROM trusted_keys WHERE org = ?`, org)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list trusted keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.TrustedKey
	for rows.Next() {
		var (
			key    storage.TrustedKey
			status string
		)
		if err := rows.Scan(&key.Org, &key.Fingerprint, &status); err != nil {
			return nil, fmt.Errorf("scan trusted key: %w", err)
		}
		key.Status = storage.KeyStatus(status)
		out = append(out, key)
	}
	return out, rows.Err()
}

// RevokeTrustedKey implements storage.Registry.
func (s *Store) RevokeTrustedKey(ctx context.Context, org, fingerprint string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE trusted_keys SET status = ? WHERE org = ? AND fingerprint = ?`, string(storage.KeyRevoked), org, fingerprint)
	if err != nil {
		return fmt.Errorf("sqlstore: revoke trusted key: %w", err)
	}
	return nil
}

// PutTrustACL implements storage.Registry.
func (s *Store) PutTrustACL(ctx context.Context, parentOrg, childOrg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_trust_acls (parent_org, child_org, status) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status)`,
		parentOrg, childOrg, string(storage.KeyActive),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: put trust acl: %w", err)
	}
	return nil
}

// ListTrustEdges implements storage.Registry.
func (s *Store) ListTrustEdges(ctx context.Context, parentOrg string) ([]storage.KeyTrustACL, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT parent_org, child_org, status FROM key_trust_acls WHERE parent_org = ? AND status = ?`, parentOrg, string(storage.KeyActive))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list trust edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.KeyTrustACL
	for rows.Next() {
		var (
			acl    storage.KeyTrustACL
			status string
		)
		if err := rows.Scan(&acl.ParentOrg, &acl.ChildOrg, &status); err != nil {
			return nil, fmt.Errorf("scan trust acl: %w", err)
		}
		acl.Status = storage.KeyStatus(status)
		out = append(out, acl)
	}
	return out, rows.Err()
}

// RevokeTrustACL implements storage.Registry.
func (s *Store) RevokeTrustACL(ctx context.Context, parentOrg, childOrg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE key_trust_acls SET status = ? WHERE parent_org = ? AND child_org = ?`, string(storage.KeyRevoked), parentOrg, childOrg)
	if err != nil {
		return fmt.Errorf("sqlstore: revoke trust acl: %w", err)
	}
	return nil
}

// PutPackageSignature implements storage.Registry.
func (s *Store) PutPackageSignature(ctx context.Context, sig storage.PackageSignature) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO package_signatures (package_hash, signer_fingerprint, signature, signed_at)
		VALUES (?, ?, ?, ?)`,
		sig.PackageHash, sig.SignerFingerprint, sig.Signature, sig.SignedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: put package signature: %w", err)
	}
	return nil
}

// GetPackageSignature implements storage.Registry.
func (s *Store) GetPackageSignature(ctx context.Context, packageHash string) (storage.PackageSignature, error) {
	if err := s.checkOpen(); err != nil {
		return storage.PackageSignature{}, err
	}
	var sig storage.PackageSignature
	err := s.db.QueryRowContext(ctx, `
		SELECT package_hash, signer_fingerprint, signature, signed_at
		FROM package_signatures WHERE package_hash = ?`, packageHash,
	).Scan(&sig.PackageHash, &sig.SignerFingerprint, &sig.Signature, &sig.SignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PackageSignature{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.PackageSignature{}, fmt.Errorf("sqlstore: get package signature: %w", err)
	}
	return sig, nil
}
