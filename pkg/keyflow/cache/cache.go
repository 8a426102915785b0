// Package cache implements the concurrent, lazily-populated keyed cache
// that backs a partition's live key state: at most one construction runs
// per key, concurrent callers for the same key observe that construction's
// result, and removal releases the built value exactly once.
package cache

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned by GetOrCreate and Values on a Cache after Close.
var ErrClosed = errors.New("keyflow/cache: closed")

// Releasable is implemented by cache values so Remove and Close can give
// them back their resources.
type Releasable interface {
	Release()
}

// BuildFunc constructs the value for a key. It may fail; failure is
// surfaced to every caller awaiting this construction and the slot is
// cleared so a later GetOrCreate starts over.
type BuildFunc[V Releasable] func(ctx context.Context) (V, error)

type entry[V Releasable] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache is a concurrent map from key to Releasable value, generic over any
// comparable key type. The zero value is not usable; construct one with
// New.
type Cache[K comparable, V Releasable] struct {
	mu      sync.Mutex
	closed  bool
	entries map[K]*entry[V]
}

// New returns an empty, open Cache.
func New[K comparable, V Releasable]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V])}
}

// GetOrCreate returns the cached value for key, building it with build if
// absent. Concurrent callers for the same key all await and share the same
// construction; GetOrCreate is linearizable per key.
func (c *Cache[K, V]) GetOrCreate(ctx context.Context, key K, build BuildFunc[V]) (V, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		var zero V
		return zero, ErrClosed
	}
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return awaitEntry(ctx, e)
	}

	e := &entry[V]{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	value, err := build(ctx)

	c.mu.Lock()
	if err != nil {
		// Only this goroutine's own slot is cleared: if the key was
		// already removed and rebuilt (a new generation) in the
		// meantime, that generation's entry is left alone.
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		e.err = err
		close(e.done)
		var zero V
		return zero, err
	}
	c.mu.Unlock()

	e.value = value
	close(e.done)
	return value, nil
}

func awaitEntry[V Releasable](ctx context.Context, e *entry[V]) (V, error) {
	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Remove marks key absent and releases its value. A construction already
// in flight for key is not aborted; once it publishes, the just-built value
// is released immediately. Idempotent: removing an absent or
// already-removed key does nothing.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	releaseWhenReady(e)
}

func releaseWhenReady[V Releasable](e *entry[V]) {
	select {
	case <-e.done:
		if e.err == nil {
			e.value.Release()
		}
	default:
		go func() {
			<-e.done
			if e.err == nil {
				e.value.Release()
			}
		}()
	}
}

// Values returns a snapshot of every entry that was ready-or-loading when
// the snapshot was taken, awaiting any load in progress. It never observes
// entries created after the snapshot, but a value it returns may be removed
// concurrently by the time the caller reads it — callers extending the
// cache must tolerate that.
func (c *Cache[K, V]) Values(ctx context.Context) (map[K]V, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	keys := make([]K, 0, len(c.entries))
	entries := make([]*entry[V], 0, len(c.entries))
	for k, e := range c.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	c.mu.Unlock()

	out := make(map[K]V, len(entries))
	for i, e := range entries {
		v, err := awaitEntry(ctx, e)
		if err != nil {
			continue // failed build: excluded from the snapshot
		}
		out[keys[i]] = v
	}
	return out, nil
}

// Len reports the number of entries currently tracked, ready or loading.
// It is a point-in-time count for metrics, not a snapshot guarantee.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close marks the cache closed and releases every entry, awaiting loads in
// progress. Further GetOrCreate/Values calls fail with ErrClosed; Remove
// does nothing and a second Close returns at once.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(entries))
	for _, e := range entries {
		e := e
		go func() {
			defer wg.Done()
			<-e.done
			if e.err == nil {
				e.value.Release()
			}
		}()
	}
	wg.Wait()
}
