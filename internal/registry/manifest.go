// Package registry implements the package registry and load protocol: it
// stores compiled workflow artifacts as opaque blobs plus structured
// metadata, and verifies Ed25519 signatures against a per-organization
// trust chain before a package may be dispatched (spec §4.5 "Package
// registry and signature verification").
package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// ManifestFilename is the well-known file inside a package archive that
// carries the structured description of its tasks and native library
// (spec §6 "Package file layout").
const ManifestFilename = "manifest.json"

// Manifest is the parsed contents of manifest.json (spec §6): package
// identity, the native library's filename/exported symbols/architecture,
// the task list in declaration order, and the execution order the
// compiler computed for the DAG.
type Manifest struct {
	Package struct {
		Name            string `json:"name"`
		Version         string `json:"version"`
		Description     string `json:"description"`
		CloacinaVersion string `json:"cloacina_version"`
	} `json:"package"`
	Library struct {
		Filename     string   `json:"filename"`
		Symbols      []string `json:"symbols"`
		Architecture string   `json:"architecture"`
	} `json:"library"`
	Tasks []struct {
		Index          int      `json:"index"`
		ID             string   `json:"id"`
		Dependencies   []string `json:"dependencies"`
		Description    string   `json:"description"`
		SourceLocation string   `json:"source_location"`
	} `json:"tasks"`
	ExecutionOrder []string `json:"execution_order"`
}

// Validate checks the manifest carries the minimum shape the load
// protocol depends on: a named package and version, a library filename,
// and at least one task.
func (m *Manifest) Validate() error {
	if m.Package.Name == "" || m.Package.Version == "" {
		return fmt.Errorf("registry: manifest missing package name/version")
	}
	if m.Library.Filename == "" {
		return fmt.Errorf("registry: manifest missing library filename")
	}
	if len(m.Tasks) == 0 {
		return fmt.Errorf("registry: manifest declares no tasks")
	}
	return nil
}

// ExtractManifest reads a package archive — a gzipped tar containing
// manifest.json and a single native dynamic library whose filename
// matches library.filename (spec §6 "Package file layout") — and returns
// the parsed manifest plus the raw library bytes. Every other archive
// member is ignored; a caller that needs the full payload for blob
// storage keeps the original packageBytes separately.
func ExtractManifest(packageBytes []byte) (*Manifest, []byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(packageBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("registry: open gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	var manifest *Manifest
	var libraryBytes []byte

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("registry: read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		switch {
		case hdr.Name == ManifestFilename:
			raw, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("registry: read manifest: %w", err)
			}
			var m Manifest
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, nil, fmt.Errorf("registry: parse manifest: %w", err)
			}
			manifest = &m
		case manifest != nil && hdr.Name == manifest.Library.Filename:
			raw, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("registry: read library: %w", err)
			}
			libraryBytes = raw
		}
	}

	if manifest == nil {
		return nil, nil, fmt.Errorf("registry: archive missing %s", ManifestFilename)
	}
	if err := manifest.Validate(); err != nil {
		return nil, nil, err
	}
	return manifest, libraryBytes, nil
}
