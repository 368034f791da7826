package sqlitestore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

func TestBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := cloaca.NewID()
	data := []byte("signed package bytes")

	if err := s.StoreBlob(ctx, id, data); err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}
	got, err := s.RetrieveBlob(ctx, id)
	if err != nil {
		t.Fatalf("RetrieveBlob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("retrieved blob = %q, want %q", got, data)
	}

	if err := s.DeleteBlob(ctx, id); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if _, err := s.RetrieveBlob(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("RetrieveBlob after delete = %v, want storage.ErrNotFound", err)
	}
}

func TestPackageMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	meta := storage.PackageMetadata{
		ID:          cloaca.NewID(),
		BlobID:      cloaca.NewID(),
		Tenant:      "acme",
		Name:        "ingest-pipeline",
		Version:     "1.0.0",
		Description: "nightly ingest",
		Author:      "data-eng",
		CreatedAt:   cloaca.Now(),
		Fingerprint: "abc123",
	}
	if err := s.PutPackageMetadata(ctx, meta); err != nil {
		t.Fatalf("PutPackageMetadata: %v", err)
	}

	got, err := s.GetPackageMetadata(ctx, "acme", "ingest-pipeline", "1.0.0")
	if err != nil {
		t.Fatalf("GetPackageMetadata: %v", err)
	}
	if !got.ID.Equal(meta.ID) || got.Fingerprint != meta.Fingerprint {
		t.Errorf("got metadata = %+v, want %+v", got, meta)
	}

	list, err := s.ListPackageMetadata(ctx, "acme")
	if err != nil {
		t.Fatalf("ListPackageMetadata: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list length = %d, want 1", len(list))
	}

	if _, err := s.GetPackageMetadata(ctx, "acme", "missing", "1.0.0"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetPackageMetadata for missing package = %v, want storage.ErrNotFound", err)
	}
}

func TestSigningKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := storage.SigningKey{
		Fingerprint:          "fp-001",
		PublicKey:            []byte("pub"),
		PrivateKeyCiphertext: []byte("cipher"),
		Status:               storage.KeyActive,
	}
	if err := s.PutSigningKey(ctx, key); err != nil {
		t.Fatalf("PutSigningKey: %v", err)
	}

	got, err := s.GetSigningKey(ctx, "fp-001")
	if err != nil {
		t.Fatalf("GetSigningKey: %v", err)
	}
	if got.Status != storage.KeyActive {
		t.Errorf("status = %q, want Active", got.Status)
	}

	if err := s.RevokeSigningKey(ctx, "fp-001", cloaca.Now()); err != nil {
		t.Fatalf("RevokeSigningKey: %v", err)
	}
	got, err = s.GetSigningKey(ctx, "fp-001")
	if err != nil {
		t.Fatalf("GetSigningKey after revoke: %v", err)
	}
	if got.Status != storage.KeyRevoked {
		t.Errorf("status after revoke = %q, want Revoked", got.Status)
	}
	if got.RevokedAt.IsZero() {
		t.Error("expected revoked_at to be set")
	}
}

func TestTrustedKeysAndACLs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutTrustedKey(ctx, "acme", "fp-001"); err != nil {
		t.Fatalf("PutTrustedKey: %v", err)
	}
	keys, err := s.ListTrustedKeys(ctx, "acme")
	if err != nil {
		t.Fatalf("ListTrustedKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].Status != storage.KeyActive {
		t.Fatalf("keys = %+v, want one Active entry", keys)
	}

	if err := s.RevokeTrustedKey(ctx, "acme", "fp-001"); err != nil {
		t.Fatalf("RevokeTrustedKey: %v", err)
	}
	keys, err = s.ListTrustedKeys(ctx, "acme")
	if err != nil {
		t.Fatalf("ListTrustedKeys after revoke: %v", err)
	}
	if keys[0].Status != storage.KeyRevoked {
		t.Errorf("status after revoke = %q, want Revoked", keys[0].Status)
	}

	if err := s.PutTrustACL(ctx, "acme", "subsidiary"); err != nil {
		t.Fatalf("PutTrustACL: %v", err)
	}
	edges, err := s.ListTrustEdges(ctx, "acme")
	if err != nil {
		t.Fatalf("ListTrustEdges: %v", err)
	}
	if len(edges) != 1 || edges[0].ChildOrg != "subsidiary" {
		t.Fatalf("edges = %+v, want one edge to subsidiary", edges)
	}

	if err := s.RevokeTrustACL(ctx, "acme", "subsidiary"); err != nil {
		t.Fatalf("RevokeTrustACL: %v", err)
	}
	edges, err = s.ListTrustEdges(ctx, "acme")
	if err != nil {
		t.Fatalf("ListTrustEdges after revoke: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("edges after revoke = %+v, want none (ListTrustEdges only returns Active)", edges)
	}
}

func TestPackageSignatureRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sig := storage.PackageSignature{
		PackageHash:       "sha256:deadbeef",
		SignerFingerprint: "fp-001",
		Signature:         []byte("sig-bytes"),
		SignedAt:          cloaca.Now(),
	}
	if err := s.PutPackageSignature(ctx, sig); err != nil {
		t.Fatalf("PutPackageSignature: %v", err)
	}

	got, err := s.GetPackageSignature(ctx, "sha256:deadbeef")
	if err != nil {
		t.Fatalf("GetPackageSignature: %v", err)
	}
	if !bytes.Equal(got.Signature, sig.Signature) || got.SignerFingerprint != sig.SignerFingerprint {
		t.Errorf("got signature = %+v, want %+v", got, sig)
	}

	if _, err := s.GetPackageSignature(ctx, "sha256:missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetPackageSignature for missing hash = %v, want storage.ErrNotFound", err)
	}
}
