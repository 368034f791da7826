// Package trust resolves whether a signer's key fingerprint is trusted by a
// verifying organization, either through the trust-chain (spec §4.5
// "Trust-chain resolution") or bypassing it entirely in offline mode (spec
// §4.5 "An offline mode verifies against a single explicitly supplied
// public key and bypasses the trust store").
package trust

import (
	"context"

	"github.com/colliery-io/cloacina-sub003/internal/storage"
)

// DefaultMaxDepth bounds trust-chain BFS when the caller does not override
// it via WithMaxDepth.
const DefaultMaxDepth = 8

// TrustStore is the subset of storage.Registry the resolver needs: an
// org's own trusted-key set, and its outgoing active trust edges.
type TrustStore interface {
	ListTrustedKeys(ctx context.Context, org string) ([]storage.TrustedKey, error)
	ListTrustEdges(ctx context.Context, parentOrg string) ([]storage.KeyTrustACL, error)
}

// Resolver answers trust-chain membership queries (spec §4.5 "Trust-chain
// resolution").
type Resolver struct {
	store    TrustStore
	maxDepth int
}

// Option configures a Resolver at construction time.
type Option func(*Resolver)

// WithMaxDepth overrides DefaultMaxDepth (spec §9.1 "a configurable
// MaxDepth").
func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// New constructs a Resolver over store.
func New(store TrustStore, opts ...Option) *Resolver {
	r := &Resolver{store: store, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reports whether fingerprint is trusted by verifyingOrg: directly,
// if it appears in verifyingOrg's own active trusted-key set, or
// transitively through active key-trust ACL edges reachable by breadth-
// first search, bounded by MaxDepth and protected against cycles by a
// visited-org set (spec §4.5: "Resolution is breadth-first with cycle
// protection; depth bound is configurable").
func (r *Resolver) Resolve(ctx context.Context, verifyingOrg, fingerprint string) (bool, error) {
	visited := map[string]bool{verifyingOrg: true}
	frontier := []string{verifyingOrg}

	for depth := 0; depth < r.maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, org := range frontier {
			trusted, err := r.store.ListTrustedKeys(ctx, org)
			if err != nil {
				return false, err
			}
			for _, key := range trusted {
				if key.Fingerprint == fingerprint && key.Status == storage.KeyActive {
					return true, nil
				}
			}

			edges, err := r.store.ListTrustEdges(ctx, org)
			if err != nil {
				return false, err
			}
			for _, edge := range edges {
				if edge.Status != storage.KeyActive || visited[edge.ChildOrg] {
					continue
				}
				visited[edge.ChildOrg] = true
				next = append(next, edge.ChildOrg)
			}
		}
		frontier = next
	}
	return false, nil
}
