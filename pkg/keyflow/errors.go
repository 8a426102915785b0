package keyflow

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/grafana/keyflow/pkg/keyflow/cache"
)

// ErrCacheClosed is returned by any cache operation issued after the owning
// PartitionFlow has released its cache. It indicates a host bug: the host
// kept driving a partition past Close.
var ErrCacheClosed = cache.ErrClosed

// ErrOffsetOverflow is the sentinel OffsetToCommit fails with when it
// cannot represent the next offset.
var ErrOffsetOverflow = errors.New("keyflow: offset overflow")

// BuildFailure wraps an error from KeyStateOf while constructing or
// recovering a key's state. It is surfaced to the caller of Apply; the
// cache slot for the key is cleared so a later batch may retry.
type BuildFailure struct {
	Key string
	Err error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("keyflow: build state for key %q: %v", e.Key, e.Err)
}

func (e *BuildFailure) Unwrap() error { return e.Err }

// FlowFailure wraps an error returned by a user KeyFlow or timer callback.
// It is fatal to the Apply call that produced it.
type FlowFailure struct {
	Key string
	Err error
}

func (e *FlowFailure) Error() string {
	return fmt.Sprintf("keyflow: flow failed for key %q: %v", e.Key, e.Err)
}

func (e *FlowFailure) Unwrap() error { return e.Err }

func errOffsetOverflowf(o Offset) error {
	return errors.Wrapf(ErrOffsetOverflow, "offset %d has no successor", o)
}
