// Package cctx implements the pipeline execution context: the typed
// string-to-JSON-value bag carried through a run and snapshotted between
// tasks (spec §3 "Context").
package cctx

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

// DefaultMaxBytes is the default ceiling on a context's serialized size,
// used when a Context is constructed without an explicit bound.
const DefaultMaxBytes = 1 << 20 // 1 MiB

// Context is a mapping from string keys to JSON values, exclusively owned
// by whichever task body currently holds it (spec §5 "Context mutation
// across awaits" — no parallel mutation). Every method takes an internal
// mutex, so concurrent calls from several goroutines do not corrupt the
// document.
type Context struct {
	mu       sync.Mutex
	doc      []byte // a JSON object, e.g. {"n":1,"step_1":2}
	maxBytes int
}

// New creates an empty Context with the default size ceiling.
func New() *Context {
	return &Context{doc: []byte("{}"), maxBytes: DefaultMaxBytes}
}

// NewWithLimit creates an empty Context with an explicit size ceiling.
func NewWithLimit(maxBytes int) *Context {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Context{doc: []byte("{}"), maxBytes: maxBytes}
}

// FromBlob reconstructs a Context from a persisted JSONBlob, as happens
// when the executor loads the pipeline's current context snapshot (spec
// §4.3 step 1).
func FromBlob(blob cloaca.JSONBlob, maxBytes int) (*Context, error) {
	c := NewWithLimit(maxBytes)
	if blob.IsNull() {
		return c, nil
	}
	if !gjson.ValidBytes(blob.Bytes()) {
		return nil, fmt.Errorf("cctx: stored context is not valid JSON")
	}
	if !gjson.ParseBytes(blob.Bytes()).IsObject() {
		return nil, fmt.Errorf("cctx: stored context must be a JSON object")
	}
	c.doc = append([]byte(nil), blob.Bytes()...)
	return c, nil
}

// Get returns the raw JSON value at key and whether it was present.
func (c *Context) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := gjson.GetBytes(c.doc, gjson.Escape(key))
	if !res.Exists() {
		return nil, false
	}
	return json.RawMessage(res.Raw), true
}

// GetInto unmarshals the value at key into v, returning false if key is
// absent.
func (c *Context) GetInto(key string, v any) (bool, error) {
	raw, ok := c.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("cctx: unmarshal key %q: %w", key, err)
	}
	return true, nil
}

// Set stores v (marshaled to JSON) at key, enforcing the size ceiling.
// It is the only mutator a task body should call; the scheduler and
// executor never write through Set directly, only via Merge/Snapshot.
func (c *Context) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cctx: marshal value for key %q: %w", key, err)
	}
	return c.setRaw(key, raw)
}

func (c *Context) setRaw(key string, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated, err := sjson.SetRawBytes(c.doc, gjson.Escape(key), raw)
	if err != nil {
		return fmt.Errorf("cctx: set key %q: %w", key, err)
	}
	if len(updated) > c.maxBytes {
		return &cloaca.ValidationError{
			Field: key,
			Code:  cloaca.ValidationCodeContextTooLarge,
			Msg:   fmt.Sprintf("context would grow to %d bytes, exceeding limit of %d", len(updated), c.maxBytes),
		}
	}
	c.doc = updated
	return nil
}

// Delete removes key from the context, if present.
func (c *Context) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated, err := sjson.DeleteBytes(c.doc, gjson.Escape(key))
	if err != nil {
		return fmt.Errorf("cctx: delete key %q: %w", key, err)
	}
	c.doc = updated
	return nil
}

// Keys returns the sorted set of top-level keys currently present.
func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	gjson.ParseBytes(c.doc).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	sort.Strings(keys)
	return keys
}

// Snapshot returns an immutable JSONBlob capturing the context's current
// contents, persisted after every successful task completion (spec §3
// "Context" invariant and §4.3 step 4).
func (c *Context) Snapshot() (cloaca.JSONBlob, error) {
	c.mu.Lock()
	doc := append([]byte(nil), c.doc...)
	c.mu.Unlock()

	return cloaca.NewJSONBlob(doc)
}

// Clone returns a deep, independent copy of the context: later changes to
// either copy are not visible in the other.
func (c *Context) Clone() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &Context{
		doc:      append([]byte(nil), c.doc...),
		maxBytes: c.maxBytes,
	}
}

// Merge applies every key from delta onto c, overwriting existing keys.
func (c *Context) Merge(delta *Context) error {
	for _, key := range delta.Keys() {
		raw, _ := delta.Get(key)
		if err := c.setRaw(key, raw); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the current serialized size in bytes.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.doc)
}
