package runner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/colliery-io/cloacina-sub003/internal/crypto"
	"github.com/colliery-io/cloacina-sub003/internal/registry"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/internal/storage/memstore"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

func TestRunnerRegisterAndListPackages(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reg := NewWorkflowRegistry()
	r, err := New(store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Shutdown(context.Background())
	})

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if err := store.PutSigningKey(ctx, storage.SigningKey{
		Fingerprint: kp.Fingerprint,
		PublicKey:   []byte(kp.PublicKey),
		Status:      storage.KeyActive,
	}); err != nil {
		t.Fatalf("PutSigningKey: %v", err)
	}
	if err := store.PutTrustedKey(ctx, "acme", kp.Fingerprint); err != nil {
		t.Fatalf("PutTrustedKey: %v", err)
	}

	pkg := buildRunnerTestPackage(t)
	sigBytes := crypto.Sign(kp.PrivateKey, pkg)
	sig := registry.Signature{
		Version:        1,
		Algorithm:      "ed25519",
		PackageHash:    crypto.PackageHash(pkg),
		KeyFingerprint: kp.Fingerprint,
		Signature:      base64.StdEncoding.EncodeToString(sigBytes),
		SignedAt:       cloaca.Now().String(),
	}

	id, err := r.RegisterPackage(ctx, "acme", pkg, sig, "data-eng")
	if err != nil {
		t.Fatalf("RegisterPackage: %v", err)
	}
	if id.IsNil() {
		t.Fatal("RegisterPackage returned nil id")
	}

	list, err := r.ListPackages(ctx, "acme")
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(list) != 1 || list[0].Name != "ingest-pipeline" {
		t.Errorf("ListPackages = %+v", list)
	}
}

func buildRunnerTestPackage(t *testing.T) []byte {
	t.Helper()

	manifest := registry.Manifest{}
	manifest.Package.Name = "ingest-pipeline"
	manifest.Package.Version = "1.0.0"
	manifest.Package.CloacinaVersion = "0.3.0"
	manifest.Library.Filename = "libingest.so"
	manifest.Library.Symbols = []string{"cloacina_execute_task"}
	manifest.Tasks = []struct {
		Index          int      `json:"index"`
		ID             string   `json:"id"`
		Dependencies   []string `json:"dependencies"`
		Description    string   `json:"description"`
		SourceLocation string   `json:"source_location"`
	}{
		{Index: 0, ID: "extract"},
	}
	manifest.ExecutionOrder = []string{"extract"}

	return packArchive(t, manifest, []byte("fake shared library"))
}

// packArchive assembles a minimal valid package archive, matching
// internal/registry's own manifest test helper.
func packArchive(t *testing.T, manifest registry.Manifest, libraryBytes []byte) []byte {
	t.Helper()

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	writeEntry := func(name string, data []byte) {
		if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}); err != nil {
			t.Fatalf("write tar header %s: %v", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatalf("write tar body %s: %v", name, err)
		}
	}
	writeEntry(registry.ManifestFilename, manifestJSON)
	writeEntry(manifest.Library.Filename, libraryBytes)

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}
