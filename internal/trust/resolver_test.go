package trust

import (
	"context"
	"testing"

	"github.com/colliery-io/cloacina-sub003/internal/storage"
)

// fakeTrustStore is a minimal in-memory TrustStore for exercising BFS
// resolution without pulling in a full storage.Storage backend.
type fakeTrustStore struct {
	trustedKeys map[string][]storage.TrustedKey
	edges       map[string][]storage.KeyTrustACL
}

func newFakeTrustStore() *fakeTrustStore {
	return &fakeTrustStore{trustedKeys: map[string][]storage.TrustedKey{}, edges: map[string][]storage.KeyTrustACL{}}
}

func (f *fakeTrustStore) trust(org, fingerprint string) {
	f.trustedKeys[org] = append(f.trustedKeys[org], storage.TrustedKey{Org: org, Fingerprint: fingerprint, Status: storage.KeyActive})
}

func (f *fakeTrustStore) edge(parent, child string, status storage.KeyStatus) {
	f.edges[parent] = append(f.edges[parent], storage.KeyTrustACL{ParentOrg: parent, ChildOrg: child, Status: status})
}

func (f *fakeTrustStore) ListTrustedKeys(ctx context.Context, org string) ([]storage.TrustedKey, error) {
	return f.trustedKeys[org], nil
}

func (f *fakeTrustStore) ListTrustEdges(ctx context.Context, parentOrg string) ([]storage.KeyTrustACL, error) {
	return f.edges[parentOrg], nil
}

func TestResolveDirectTrust(t *testing.T) {
	store := newFakeTrustStore()
	store.trust("acme", "fp1")

	r := New(store)
	trusted, err := r.Resolve(context.Background(), "acme", "fp1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !trusted {
		t.Error("expected fp1 to be trusted directly by acme")
	}
}

func TestResolveTransitiveTrust(t *testing.T) {
	store := newFakeTrustStore()
	store.edge("acme", "acme-eu", storage.KeyActive)
	store.edge("acme-eu", "acme-eu-vendor", storage.KeyActive)
	store.trust("acme-eu-vendor", "fp1")

	r := New(store)
	trusted, err := r.Resolve(context.Background(), "acme", "fp1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !trusted {
		t.Error("expected fp1 to be reachable transitively through two active edges")
	}
}

func TestResolveIgnoresRevokedEdge(t *testing.T) {
	store := newFakeTrustStore()
	store.edge("acme", "acme-eu", storage.KeyRevoked)
	store.trust("acme-eu", "fp1")

	r := New(store)
	trusted, err := r.Resolve(context.Background(), "acme", "fp1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if trusted {
		t.Error("expected a revoked edge to block transitive trust")
	}
}

func TestResolveRespectsMaxDepth(t *testing.T) {
	store := newFakeTrustStore()
	store.edge("acme", "hop1", storage.KeyActive)
	store.edge("hop1", "hop2", storage.KeyActive)
	store.edge("hop2", "hop3", storage.KeyActive)
	store.trust("hop3", "fp1")

	r := New(store, WithMaxDepth(2))
	trusted, err := r.Resolve(context.Background(), "acme", "fp1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if trusted {
		t.Error("expected fp1 to be unreachable within a depth bound of 2")
	}

	rUnbounded := New(store, WithMaxDepth(5))
	trusted, err = rUnbounded.Resolve(context.Background(), "acme", "fp1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !trusted {
		t.Error("expected fp1 to be reachable with a depth bound of 5")
	}
}

func TestResolveDoesNotLoopOnCycle(t *testing.T) {
	store := newFakeTrustStore()
	store.edge("acme", "acme-eu", storage.KeyActive)
	store.edge("acme-eu", "acme", storage.KeyActive) // cycle back to the start

	r := New(store, WithMaxDepth(1000))
	trusted, err := r.Resolve(context.Background(), "acme", "fp-never-trusted")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if trusted {
		t.Error("expected an untrusted fingerprint to stay untrusted regardless of cycle")
	}
}
