// Package memstore implements internal/storage.Storage as a process-local,
// mutex-guarded map of rows, grounded on the teacher's generic
// graph/store/memory.go MemStore[S] (one RWMutex over a handful of maps,
// indices kept alongside the primary table, no external dependency). It
// exists purely as a fast, dependency-free test backend: every exported
// package test in this module that does not specifically exercise SQL
// semantics can use it instead of sqlitestore's ":memory:" mode.
//
// There is only ever one writer (the in-process mutex), so the claim
// protocol does not need sqlitestore's compare-and-set fallback: Capabilities
// reports SkipLocked true because every mutation already runs under a single
// exclusive lock, which is equivalent to row-level locking for a store no
// other process can see.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/colliery-io/cloacina-sub003/internal/events"
	"github.com/colliery-io/cloacina-sub003/internal/storage"
	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

var errClosed = errors.New("memstore: store is closed")

// Store is an in-memory internal/storage.Storage. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	closed bool

	pipelines map[cloaca.ID]events.Pipeline
	tasks     map[cloaca.ID]events.Task
	events    []events.Event
	nextEvent int64

	// outbox preserves insertion order, mirroring sqlitestore's
	// AUTOINCREMENT id ordering for ClaimReady's "ORDER BY o.id ASC".
	outbox      []cloaca.ID
	nextOutbox  int64
	outboxByTask map[cloaca.ID]int64

	blobs     map[cloaca.ID][]byte
	metadata  map[string]storage.PackageMetadata // key: tenant/name/version
	signing   map[string]storage.SigningKey
	trusted   map[string]storage.TrustedKey // key: org/fingerprint
	trustACL  map[string]storage.KeyTrustACL // key: parentOrg/childOrg
	signature map[string]storage.PackageSignature
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		pipelines:    make(map[cloaca.ID]events.Pipeline),
		tasks:        make(map[cloaca.ID]events.Task),
		outboxByTask: make(map[cloaca.ID]int64),
		blobs:        make(map[cloaca.ID][]byte),
		metadata:     make(map[string]storage.PackageMetadata),
		signing:      make(map[string]storage.SigningKey),
		trusted:      make(map[string]storage.TrustedKey),
		trustACL:     make(map[string]storage.KeyTrustACL),
		signature:    make(map[string]storage.PackageSignature),
	}
}

// Close marks the store unusable. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Capabilities reports the memory backend's feature set.
func (s *Store) Capabilities() storage.Capabilities {
	return storage.Capabilities{SkipLocked: true, Notify: false, Backend: "memory"}
}

func (s *Store) checkOpenLocked() error {
	if s.closed {
		return &cloaca.StorageError{Op: "checkOpen", Code: cloaca.StorageCodeConnectionLost, Err: errClosed}
	}
	return nil
}

var _ storage.Storage = (*Store)(nil)

func sortedTaskNames(tasks []events.Task) []events.Task {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

func (s *Store) appendEventsLocked(logEvents []events.Event) {
	for _, e := range logEvents {
		s.nextEvent++
		e.ID = s.nextEvent
		s.events = append(s.events, e)
	}
}

func (s *Store) insertOutboxLocked(taskID cloaca.ID) {
	s.nextOutbox++
	s.outbox = append(s.outbox, taskID)
	s.outboxByTask[taskID] = s.nextOutbox
}

func (s *Store) removeOutboxLocked(taskID cloaca.ID) {
	for i, id := range s.outbox {
		if id == taskID {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			break
		}
	}
	delete(s.outboxByTask, taskID)
}

// AppendEvents implements storage.Storage.
func (s *Store) AppendEvents(ctx context.Context, logEvents []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	s.appendEventsLocked(logEvents)
	return nil
}

// OutboxDepth implements storage.Storage.
func (s *Store) OutboxDepth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return 0, err
	}
	return len(s.outbox), nil
}
