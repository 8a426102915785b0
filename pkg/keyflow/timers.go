package keyflow

import (
	"context"
	"sync"
	"time"
)

// TimerCondition is a single pending timer: it fires once the engine's view
// of "now" for the key reaches the condition, on any of three clocks. Build
// one with AtWallClock, AtWatermark or AtOffset.
type TimerCondition struct {
	wallClock *time.Time
	watermark *time.Time
	offset    *Offset
}

// AtWallClock fires the first time Timers.set is called with a clock at or
// after t.
func AtWallClock(t time.Time) TimerCondition { return TimerCondition{wallClock: &t} }

// AtWatermark fires the first time Timers.set is called with a watermark at
// or after t. A batch with no watermark never satisfies it.
func AtWatermark(t time.Time) TimerCondition { return TimerCondition{watermark: &t} }

// AtOffset fires the first time Timers.set is called with an offset at or
// past o.
func AtOffset(o Offset) TimerCondition { return TimerCondition{offset: &o} }

func (c TimerCondition) due(ts Timestamp) bool {
	switch {
	case c.wallClock != nil:
		return !ts.Clock.Before(*c.wallClock)
	case c.watermark != nil:
		return ts.Watermark != nil && !ts.Watermark.Before(*c.watermark)
	case c.offset != nil:
		return ts.Offset >= *c.offset
	default:
		return false
	}
}

// Timers is a per-key registry of wall-clock, watermark and offset timers.
// KeyStateOf constructs one alongside each key's KeyFlow; the key's own
// flow registers conditions and onProcessed hooks on it (typically to
// snapshot/expire state), and PartitionFlow drives it with set, trigger and
// onProcessed as it processes batches and ticks. Timers spawns nothing of
// its own: firing is purely a function of the Timestamp last handed to set.
type Timers struct {
	mu             sync.Mutex
	have           bool
	current        Timestamp
	pending        []TimerCondition
	onProcessedFns []func()
}

// NewTimers returns an empty registry.
func NewTimers() *Timers {
	return &Timers{}
}

// Register arms a new pending condition.
func (t *Timers) Register(c TimerCondition) {
	t.mu.Lock()
	t.pending = append(t.pending, c)
	t.mu.Unlock()
}

// OnProcessed arms fn to run every time the key finishes applying a batch.
func (t *Timers) OnProcessed(fn func()) {
	t.mu.Lock()
	t.onProcessedFns = append(t.onProcessedFns, fn)
	t.mu.Unlock()
}

// set advances the key's view of now. Non-monotone calls (an offset behind
// the last one observed) are ignored.
func (t *Timers) set(ts Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.have && ts.Offset < t.current.Offset {
		return
	}
	t.have = true
	t.current = ts
}

// onProcessedCallback runs every registered OnProcessed hook, in registration
// order.
func (t *Timers) onProcessedCallback() {
	t.mu.Lock()
	fns := make([]func(), len(t.onProcessedFns))
	copy(fns, t.onProcessedFns)
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// trigger evaluates every pending condition against the current timestamp.
// Conditions that are due fire and are dropped; if at least one fired,
// flow is invoked once with a synthetic empty batch.
func (t *Timers) trigger(ctx context.Context, flow KeyFlow) error {
	t.mu.Lock()
	if !t.have {
		t.mu.Unlock()
		return nil
	}
	cur := t.current

	fired := false
	remaining := t.pending[:0]
	for _, c := range t.pending {
		if c.due(cur) {
			fired = true
			continue
		}
		remaining = append(remaining, c)
	}
	t.pending = remaining
	t.mu.Unlock()

	if !fired {
		return nil
	}
	return flow(ctx, nil)
}
