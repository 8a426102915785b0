// Package keyflowtest provides an in-memory KeyStateOf reference
// implementation for tests and the demo command. The real table-backed
// store (a wide-column keyspace, out of scope for the core — see
// SPEC_FULL.md §11) would implement the same interface.
package keyflowtest

import (
	"context"
	"sort"
	"sync"

	"github.com/grafana/keyflow/pkg/keyflow"
)

// BuildFunc constructs the KeyState for a newly demanded key.
type BuildFunc func(ctx context.Context, key string, createdAt keyflow.Timestamp, kctx *keyflow.KeyContext) (keyflow.KeyState, error)

// MapKeyStateOf is a keyflow.KeyStateOf backed by a plain map of keys to
// recover, guarded by its own mutex — there is no shared schema-creation
// token to inherit because this store owns no schema at all.
type MapKeyStateOf struct {
	build BuildFunc

	mu   sync.Mutex
	seed map[keyflow.TopicPartition][]string
}

// NewMapKeyStateOf returns a store that recovers no keys until Seed is
// called, and builds new keys with build.
func NewMapKeyStateOf(build BuildFunc) *MapKeyStateOf {
	return &MapKeyStateOf{build: build, seed: map[keyflow.TopicPartition][]string{}}
}

// Seed registers keys to recover the next time AllKeys is called for tp.
func (m *MapKeyStateOf) Seed(tp keyflow.TopicPartition, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed[tp] = append(m.seed[tp], keys...)
}

func (m *MapKeyStateOf) KeyState(ctx context.Context, key string, createdAt keyflow.Timestamp, kctx *keyflow.KeyContext) (keyflow.KeyState, error) {
	return m.build(ctx, key, createdAt, kctx)
}

func (m *MapKeyStateOf) AllKeys(ctx context.Context, tp keyflow.TopicPartition) (keyflow.KeyIterator, error) {
	m.mu.Lock()
	keys := append([]string(nil), m.seed[tp]...)
	m.mu.Unlock()
	sort.Strings(keys)
	return &sliceIterator{keys: keys}, nil
}

type sliceIterator struct {
	keys []string
	pos  int
}

func (it *sliceIterator) Next(ctx context.Context) (string, bool, error) {
	if it.pos >= len(it.keys) {
		return "", false, nil
	}
	k := it.keys[it.pos]
	it.pos++
	return k, true, nil
}

func (it *sliceIterator) Close() error { return nil }
