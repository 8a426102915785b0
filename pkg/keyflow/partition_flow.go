package keyflow

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/keyflow/pkg/boundedwaitgroup"
	"github.com/grafana/keyflow/pkg/keyflow/cache"
)

// recoveryConcurrency bounds how many keys recover in parallel, so a
// partition recovering millions of keys doesn't spawn millions of goroutines
// at once.
const recoveryConcurrency = 64

// partitionKey is the live, cached state for one key: its flow, its timer
// registry, and the context the flow uses to hold/release/self-remove. It
// implements cache.Releasable so the cache can tear it down uniformly with
// every other entry.
type partitionKey struct {
	flow   KeyFlow
	timers *Timers
	ctx    *KeyContext
}

func (k *partitionKey) Release() {
	k.ctx.Release()
}

// PartitionFlow is the per-partition coordination engine: it owns a cache of
// live per-key state keyed by record key, fans batches out to keys in
// parallel while preserving per-key order, drives each key's timers in
// lock-step with the batches and a tick, and arbitrates the offset safe to
// commit back to the host from the keys' holds. See Apply.
//
// A PartitionFlow is single-consumer: the host must never call Apply
// concurrently with itself. It is safe to read CommittedOffset from any
// goroutine at any time.
type PartitionFlow struct {
	tp             TopicPartition
	keyStateOf     KeyStateOf
	clock          Clock
	offsetToCommit OffsetToCommitFunc
	logger         log.Logger

	cache *cache.Cache[string, *partitionKey]

	committedOffset atomic.Int64

	curMu   sync.Mutex
	current Timestamp
}

// Option configures a PartitionFlow at construction.
type Option func(*PartitionFlow)

// WithClock overrides the default RealClock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(p *PartitionFlow) { p.clock = c }
}

// WithOffsetToCommit overrides DefaultOffsetToCommit.
func WithOffsetToCommit(f OffsetToCommitFunc) Option {
	return func(p *PartitionFlow) { p.offsetToCommit = f }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l log.Logger) Option {
	return func(p *PartitionFlow) { p.logger = l }
}

// New constructs a PartitionFlow bound to tp and runs recovery: every key
// keyStateOf.AllKeys enumerates is materialized into the cache, bounded-
// parallel, before New returns. assignedAt is both the initial committed
// offset and the offset recovered keys are stamped with as their
// createdAt.
func New(ctx context.Context, tp TopicPartition, assignedAt Offset, keyStateOf KeyStateOf, opts ...Option) (*PartitionFlow, error) {
	p := &PartitionFlow{
		tp:             tp,
		keyStateOf:     keyStateOf,
		clock:          RealClock{},
		offsetToCommit: DefaultOffsetToCommit,
		logger:         log.NewNopLogger(),
		cache:          cache.New[string, *partitionKey](),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.committedOffset.Store(int64(assignedAt))
	p.current = Timestamp{Clock: p.clock.Now(), Offset: assignedAt}

	if err := p.recover(ctx, assignedAt); err != nil {
		p.cache.Close()
		return nil, err
	}
	return p, nil
}

func (p *PartitionFlow) recover(ctx context.Context, assignedAt Offset) error {
	it, err := p.keyStateOf.AllKeys(ctx, p.tp)
	if err != nil {
		return err
	}
	defer it.Close()

	recoverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	createdAt := Timestamp{Clock: p.clock.Now(), Offset: assignedAt}
	bg := boundedwaitgroup.New(recoveryConcurrency)

	var (
		mu       sync.Mutex
		firstErr error
		n        atomic.Int64
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for {
		key, ok, err := it.Next(recoverCtx)
		if err != nil {
			fail(err)
			break
		}
		if !ok {
			break
		}

		bg.Add(1)
		go func(key string) {
			defer bg.Done()
			if _, err := p.getOrCreateKey(recoverCtx, key, createdAt); err != nil {
				fail(&BuildFailure{Key: key, Err: err})
				return
			}
			n.Inc()
		}(key)
	}
	bg.Wait()

	if firstErr != nil {
		return firstErr
	}
	level.Info(p.logger).Log("msg", "recovered keys", "topic", p.tp.Topic, "partition", p.tp.Partition, "count", n.Load())
	return nil
}

func (p *PartitionFlow) getOrCreateKey(ctx context.Context, key string, createdAt Timestamp) (*partitionKey, error) {
	return p.cache.GetOrCreate(ctx, key, func(ctx context.Context) (*partitionKey, error) {
		kctx := newKeyContext(func() { p.cache.Remove(key) })
		state, err := p.keyStateOf.KeyState(ctx, key, createdAt, kctx)
		if err != nil {
			return nil, err
		}
		timers := state.Timers
		if timers == nil {
			timers = NewTimers()
		}
		return &partitionKey{flow: state.Flow, timers: timers, ctx: kctx}, nil
	})
}

// Apply advances the partition with one batch of records (possibly empty)
// read since the last call, and returns the offset newly safe to commit, if
// any. It executes, in order: processRecords (skipped when records is
// empty, or contains no keyed record), triggerTimers (always), and
// offsetToCommit arbitration (always). Arbitration takes the smallest live
// hold across cached keys, or, with no hold, the offset-to-commit of the
// last keyed record processed, and reports it only if it is above the
// committed offset.
func (p *PartitionFlow) Apply(ctx context.Context, records []Record) (Offset, bool, error) {
	if err := p.processRecords(ctx, records); err != nil {
		return 0, false, err
	}
	if err := p.triggerTimers(ctx); err != nil {
		return 0, false, err
	}
	return p.arbitrateCommit(ctx)
}

func (p *PartitionFlow) processRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batchClock := p.clock.Now()
	groups, lastKeyed := groupByKey(records)
	if len(groups) == 0 {
		// All records unkeyed: currentTimestamp is not advanced (no
		// representative record to attribute it to).
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for key, keyRecords := range groups {
		key, keyRecords := key, keyRecords
		g.Go(func() error {
			head := keyRecords[0]
			batchAt := Timestamp{Clock: batchClock, Watermark: head.Timestamp, Offset: head.Offset}

			pk, err := p.getOrCreateKey(gctx, key, batchAt)
			if err != nil {
				return &BuildFailure{Key: key, Err: err}
			}

			pk.timers.set(batchAt)
			if err := pk.flow(gctx, keyRecords); err != nil {
				return &FlowFailure{Key: key, Err: err}
			}
			pk.timers.onProcessedCallback()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	nextOffset, err := p.offsetToCommit(lastKeyed.Offset)
	if err != nil {
		return err
	}
	p.setCurrent(Timestamp{Clock: batchClock, Watermark: lastKeyed.Timestamp, Offset: nextOffset})
	return nil
}

// groupByKey partitions records by key, discarding unkeyed ones, preserving
// input order within each group, and reports the last record (in input
// order) that carried a key.
func groupByKey(records []Record) (map[string][]Record, Record) {
	groups := make(map[string][]Record)
	var lastKeyed Record
	haveLastKeyed := false
	for _, r := range records {
		if r.Key == "" {
			continue
		}
		groups[r.Key] = append(groups[r.Key], r)
		lastKeyed = r
		haveLastKeyed = true
	}
	if !haveLastKeyed {
		return nil, Record{}
	}
	return groups, lastKeyed
}

func (p *PartitionFlow) triggerTimers(ctx context.Context) error {
	tickClock := p.clock.Now()
	p.curMu.Lock()
	p.current.Clock = tickClock
	cur := p.current
	p.curMu.Unlock()

	values, err := p.cache.Values(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for key, pk := range values {
		key, pk := key, pk
		g.Go(func() error {
			pk.timers.set(cur)
			if err := pk.timers.trigger(gctx, pk.flow); err != nil {
				return &FlowFailure{Key: key, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *PartitionFlow) arbitrateCommit(ctx context.Context) (Offset, bool, error) {
	values, err := p.cache.Values(ctx)
	if err != nil {
		return 0, false, err
	}

	var minHold Offset
	haveHold := false
	for _, pk := range values {
		h, ok := pk.ctx.HoldOffset()
		if !ok {
			continue
		}
		if !haveHold || h < minHold {
			minHold = h
			haveHold = true
		}
	}

	p.curMu.Lock()
	currentOffset := p.current.Offset
	p.curMu.Unlock()

	allowed := currentOffset
	if haveHold {
		allowed = minHold
	}

	committed := Offset(p.committedOffset.Load())
	if allowed <= committed {
		return 0, false, nil
	}
	p.committedOffset.Store(int64(allowed))
	level.Info(p.logger).Log("msg", "committed offset advanced", "topic", p.tp.Topic, "partition", p.tp.Partition, "from", committed, "to", allowed)
	return allowed, true, nil
}

func (p *PartitionFlow) setCurrent(ts Timestamp) {
	p.curMu.Lock()
	p.current = ts
	p.curMu.Unlock()
}

// CommittedOffset returns the offset last returned by Apply, or assignedAt
// if Apply has never advanced it.
func (p *PartitionFlow) CommittedOffset() Offset {
	return Offset(p.committedOffset.Load())
}

// CurrentOffset returns the offset-to-commit (one past the last keyed record)
// of the most recently processed batch, or assignedAt if no batch with a
// keyed record has been processed yet. It is
// always >= CommittedOffset; the gap between them is how far commits lag
// behind consumption.
func (p *PartitionFlow) CurrentOffset() Offset {
	p.curMu.Lock()
	defer p.curMu.Unlock()
	return p.current.Offset
}

// CachedKeyCount reports how many keys are currently live in the
// partition's cache.
func (p *PartitionFlow) CachedKeyCount() int {
	return p.cache.Len()
}

// Close releases every cached key (and transitively its context and
// timers). It must be called exactly once when the host gives up the
// partition, including on error paths.
func (p *PartitionFlow) Close() {
	p.cache.Close()
}
