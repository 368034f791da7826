package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"
)

// buildTestPackage assembles a minimal valid package archive (spec §6
// "Package file layout"): a gzipped tar with manifest.json and a single
// native library file whose name matches library.filename.
func buildTestPackage(t *testing.T, libraryBytes []byte) []byte {
	t.Helper()

	manifest := Manifest{}
	manifest.Package.Name = "ingest-pipeline"
	manifest.Package.Version = "1.0.0"
	manifest.Package.Description = "nightly ingest"
	manifest.Package.CloacinaVersion = "0.3.0"
	manifest.Library.Filename = "libingest.so"
	manifest.Library.Symbols = []string{"cloacina_execute_task"}
	manifest.Library.Architecture = "x86_64-linux-gnu"
	manifest.Tasks = []struct {
		Index          int      `json:"index"`
		ID             string   `json:"id"`
		Dependencies   []string `json:"dependencies"`
		Description    string   `json:"description"`
		SourceLocation string   `json:"source_location"`
	}{
		{Index: 0, ID: "extract", Dependencies: nil, Description: "extract rows", SourceLocation: "src/extract.rs"},
		{Index: 1, ID: "load", Dependencies: []string{"extract"}, Description: "load rows", SourceLocation: "src/load.rs"},
	}
	manifest.ExecutionOrder = []string{"extract", "load"}

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
	writeEntry(ManifestFilename, manifestJSON)
	writeEntry(manifest.Library.Filename, libraryBytes)

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractManifestRoundTrip(t *testing.T) {
	pkg := buildTestPackage(t, []byte("fake shared library bytes"))

	manifest, library, err := ExtractManifest(pkg)
	if err != nil {
		t.Fatalf("ExtractManifest: %v", err)
	}
	if manifest.Package.Name != "ingest-pipeline" || manifest.Package.Version != "1.0.0" {
		t.Errorf("manifest package = %+v, want ingest-pipeline@1.0.0", manifest.Package)
	}
	if len(manifest.Tasks) != 2 || manifest.Tasks[1].ID != "load" {
		t.Errorf("manifest tasks = %+v", manifest.Tasks)
	}
	if string(library) != "fake shared library bytes" {
		t.Errorf("library bytes = %q", library)
	}
}

func TestExtractManifestMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	_ = tw.WriteHeader(&tar.Header{Name: "libfoo.so", Size: 3, Mode: 0o644})
	_, _ = tw.Write([]byte("abc"))
	_ = tw.Close()
	_ = gz.Close()

	if _, _, err := ExtractManifest(buf.Bytes()); err == nil {
		t.Fatal("ExtractManifest with no manifest.json: want error, got nil")
	}
}

func TestExtractManifestNotGzip(t *testing.T) {
	if _, _, err := ExtractManifest([]byte("not a gzip archive")); err == nil {
		t.Fatal("ExtractManifest of non-gzip bytes: want error, got nil")
	}
}
