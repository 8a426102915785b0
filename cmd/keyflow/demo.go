package main

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/keyflow/pkg/keyflow"
	"github.com/grafana/keyflow/pkg/keyflow/keyflowtest"
)

// flushInterval is how often a key's counter is logged and its hold
// released. It stands in for the periodic snapshot/flush a real KeyFlow
// would perform against durable storage.
const flushInterval = 10 * time.Second

// newCounterKeyStateOf builds a keyflow.KeyStateOf whose keys do nothing
// but count the records they've seen and flush that count to logger on a
// wall-clock timer, holding the offset of the oldest unflushed record in
// between. It stands in for the wide-column-store-backed KeyStateOf a real
// deployment would supply.
func newCounterKeyStateOf(logger log.Logger) *keyflowtest.MapKeyStateOf {
	return keyflowtest.NewMapKeyStateOf(func(ctx context.Context, key string, createdAt keyflow.Timestamp, kctx *keyflow.KeyContext) (keyflow.KeyState, error) {
		c := &counterKey{key: key, logger: logger}
		timers := keyflow.NewTimers()
		timers.Register(keyflow.AtWallClock(createdAt.Clock.Add(flushInterval)))
		return keyflow.KeyState{Flow: c.apply(kctx, timers), Timers: timers}, nil
	})
}

type counterKey struct {
	key    string
	logger log.Logger

	mu       sync.Mutex
	count    int64
	holdFrom keyflow.Offset
	holding  bool
}

// apply returns the KeyFlow closure PartitionFlow drives: on a record
// batch it counts and holds the first unflushed offset; on a nil batch
// (the flush timer firing) it flushes and releases.
func (c *counterKey) apply(kctx *keyflow.KeyContext, timers *keyflow.Timers) keyflow.KeyFlow {
	return func(ctx context.Context, records []keyflow.Record) error {
		if records == nil {
			c.flush(kctx)
			timers.Register(keyflow.AtWallClock(time.Now().Add(flushInterval)))
			return nil
		}

		c.mu.Lock()
		if !c.holding {
			c.holdFrom = records[0].Offset
			c.holding = true
		}
		c.count += int64(len(records))
		c.mu.Unlock()

		kctx.Hold(c.holdFrom)
		return nil
	}
}

func (c *counterKey) flush(kctx *keyflow.KeyContext) {
	c.mu.Lock()
	count := c.count
	c.count = 0
	c.holding = false
	c.mu.Unlock()

	if count > 0 {
		level.Info(c.logger).Log("msg", "flushed key counter", "key", c.key, "count", count)
	}
	kctx.Release()
}
