package keyflow

import (
	"context"
	"time"
)

// Record is one entry read from a partition. Key is empty for a record
// without a key; PartitionFlow skips such records during batch grouping.
type Record struct {
	Key       string
	Offset    Offset
	Timestamp *time.Time
	Value     []byte
}

// KeyFlow is the user-supplied fold for one key. PartitionFlow calls it
// twice over: with a non-empty, strictly offset-increasing batch of records
// for that key, and — from Timers.trigger — with a nil batch when a timer
// fires. It must call KeyContext.Hold/Release as appropriate to participate
// in commit arbitration.
type KeyFlow func(ctx context.Context, records []Record) error

// KeyState is what KeyStateOf produces for a key: the fold that applies its
// records, and the timer registry driven alongside it.
type KeyState struct {
	Flow   KeyFlow
	Timers *Timers
}

// KeyStateOf constructs per-key state, and enumerates the keys a partition
// should recover on startup. Implementations may perform I/O (loading
// snapshots or journals) inside KeyState.
type KeyStateOf interface {
	KeyState(ctx context.Context, key string, createdAt Timestamp, kctx *KeyContext) (KeyState, error)
	AllKeys(ctx context.Context, tp TopicPartition) (KeyIterator, error)
}

// KeyIterator is a finite pull-based sequence of keys to recover. Iteration
// order is irrelevant. It may be backed by a database cursor or an
// in-memory list.
type KeyIterator interface {
	// Next returns the next key. ok is false once the sequence is
	// exhausted; err is non-nil only on a genuine iteration failure.
	Next(ctx context.Context) (key string, ok bool, err error)
	Close() error
}
