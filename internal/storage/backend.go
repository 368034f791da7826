package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// SchemeBackend maps a storage URL's scheme to the compiled backend name
// expected to handle it.
var SchemeBackend = map[string]string{
	"sqlite": "sqlite",
	"file":   "sqlite",
	"mysql":  "mysql",
	"memory": "memory",
}

// ValidateBackendURL parses storageURL and checks that its scheme matches
// compiledBackend, returning a *cloaca.BackendMismatchError otherwise
// (spec §9: "two storage backends behind one capability interface").
// Runner configuration calls this before constructing a concrete store so
// a sqlite:// URL handed to a mysql-only build fails fast with a typed
// error instead of an opaque driver dial failure.
func ValidateBackendURL(storageURL, compiledBackend string) error {
	parsed, err := url.Parse(storageURL)
	if err != nil {
		return fmt.Errorf("storage: parse url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	want, known := SchemeBackend[scheme]
	if !known {
		return fmt.Errorf("storage: unrecognized scheme %q", scheme)
	}
	if want != compiledBackend {
		return &cloaca.BackendMismatchError{Configured: want, Compiled: compiledBackend}
	}
	return nil
}
