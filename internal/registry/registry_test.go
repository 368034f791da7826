package registry

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/colliery-io/cloacina-sub003/internal/crypto"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/internal/storage/memstore"
	"github.com/colliery-io/cloacina-sub003/internal/trust"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	resolver := trust.New(store)
	return New(store, resolver), store
}

func signTestPackage(t *testing.T, kp crypto.KeyPair, pkg []byte) Signature {
	t.Helper()
	sig := crypto.Sign(kp.PrivateKey, pkg)
	return Signature{
		Version:        1,
		Algorithm:      "ed25519",
		PackageHash:    crypto.PackageHash(pkg),
		KeyFingerprint: kp.Fingerprint,
		Signature:      base64.StdEncoding.EncodeToString(sig),
		SignedAt:       cloaca.Now().String(),
	}
}

func TestRegisterAndListRequiresDirectTrust(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if err := store.PutSigningKey(ctx, signingKeyRow(kp)); err != nil {
		t.Fatalf("PutSigningKey: %v", err)
	}

	pkg := buildTestPackage(t, []byte("lib bytes"))
	sig := signTestPackage(t, kp, pkg)

	if _, err := svc.Register(ctx, "acme", "acme", pkg, sig, "data-eng", cloaca.JSONBlob{}); err == nil {
		t.Fatal("Register before trusting the key: want VerificationError, got nil")
	}

	if err := store.PutTrustedKey(ctx, "acme", kp.Fingerprint); err != nil {
		t.Fatalf("PutTrustedKey: %v", err)
	}

	id, err := svc.Register(ctx, "acme", "acme", pkg, sig, "data-eng", cloaca.JSONBlob{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id.IsNil() {
		t.Fatal("Register returned nil id")
	}

	list, err := svc.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "ingest-pipeline" || list[0].Version != "1.0.0" {
		t.Errorf("List = %+v", list)
	}
}

func TestRegisterRejectsTamperedHash(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	kp, _ := crypto.GenerateKeyPair()
	_ = store.PutSigningKey(ctx, signingKeyRow(kp))
	_ = store.PutTrustedKey(ctx, "acme", kp.Fingerprint)

	pkg := buildTestPackage(t, []byte("lib bytes"))
	sig := signTestPackage(t, kp, pkg)
	sig.PackageHash = "0000000000000000000000000000000000000000000000000000000000000000"

	if _, err := svc.Register(ctx, "acme", "acme", pkg, sig, "data-eng", cloaca.JSONBlob{}); err == nil {
		t.Fatal("Register with tampered package_hash: want error, got nil")
	}
}

func TestLoadRevokedKeyBlocksDispatch(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	kp, _ := crypto.GenerateKeyPair()
	_ = store.PutSigningKey(ctx, signingKeyRow(kp))
	_ = store.PutTrustedKey(ctx, "acme", kp.Fingerprint)

	pkg := buildTestPackage(t, []byte("lib bytes"))
	sig := signTestPackage(t, kp, pkg)
	if _, err := svc.Register(ctx, "acme", "acme", pkg, sig, "data-eng", cloaca.JSONBlob{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := svc.Load(ctx, "acme", "acme", "ingest-pipeline", "1.0.0"); err != nil {
		t.Fatalf("Load before revocation: %v", err)
	}

	if err := store.RevokeSigningKey(ctx, kp.Fingerprint, cloaca.Now()); err != nil {
		t.Fatalf("RevokeSigningKey: %v", err)
	}

	_, _, err := svc.Load(ctx, "acme", "acme", "ingest-pipeline", "1.0.0")
	if err == nil {
		t.Fatal("Load after key revocation: want VerificationError, got nil")
	}
	verr, ok := err.(*cloaca.VerificationError)
	if !ok || verr.Code != cloaca.VerificationCodeRevokedKey {
		t.Errorf("Load after revocation err = %v, want VerificationCodeRevokedKey", err)
	}
}

func TestLoadTrustThroughACLThenRevoked(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	kp, _ := crypto.GenerateKeyPair()
	_ = store.PutSigningKey(ctx, signingKeyRow(kp))
	// org "acme" trusts key only through a child org "partner" it has an
	// active trust edge to (spec §8 scenario 6).
	_ = store.PutTrustedKey(ctx, "partner", kp.Fingerprint)
	_ = store.PutTrustACL(ctx, "acme", "partner")

	pkg := buildTestPackage(t, []byte("lib bytes"))
	sig := signTestPackage(t, kp, pkg)
	if _, err := svc.Register(ctx, "acme", "acme", pkg, sig, "data-eng", cloaca.JSONBlob{}); err != nil {
		t.Fatalf("Register via transitive trust: %v", err)
	}

	if err := store.RevokeTrustACL(ctx, "acme", "partner"); err != nil {
		t.Fatalf("RevokeTrustACL: %v", err)
	}
	if _, _, err := svc.Load(ctx, "acme", "acme", "ingest-pipeline", "1.0.0"); err == nil {
		t.Fatal("Load after ACL revocation: want untrusted error, got nil")
	}

	// Trusting the key directly in acme restores verification even with
	// the ACL edge still revoked.
	_ = store.PutTrustedKey(ctx, "acme", kp.Fingerprint)
	if _, _, err := svc.Load(ctx, "acme", "acme", "ingest-pipeline", "1.0.0"); err != nil {
		t.Fatalf("Load after direct trust: %v", err)
	}
}

func TestRegisterDuplicateNameVersionRejected(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	kp, _ := crypto.GenerateKeyPair()
	_ = store.PutSigningKey(ctx, signingKeyRow(kp))
	_ = store.PutTrustedKey(ctx, "acme", kp.Fingerprint)

	pkg := buildTestPackage(t, []byte("lib bytes"))
	sig := signTestPackage(t, kp, pkg)
	if _, err := svc.Register(ctx, "acme", "acme", pkg, sig, "data-eng", cloaca.JSONBlob{}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := svc.Register(ctx, "acme", "acme", pkg, sig, "data-eng", cloaca.JSONBlob{}); err == nil {
		t.Fatal("second Register of same (tenant, name, version): want error, got nil")
	}
}

func signingKeyRow(kp crypto.KeyPair) storage.SigningKey {
	return storage.SigningKey{
		Fingerprint: kp.Fingerprint,
		PublicKey:   []byte(kp.PublicKey),
		Status:      storage.KeyActive,
	}
}
