package partitionflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grafana/keyflow/pkg/ingest"
	"github.com/grafana/keyflow/pkg/keyflow"
)

// Consumer is the host service that owns one keyflow.PartitionFlow per
// assigned partition and drives each with a poll-and-apply loop: read a
// batch of records (or time out, signalling idle), run it through Apply, and
// commit whatever offset Apply reports newly safe.
type Consumer struct {
	services.Service

	logger     log.Logger
	cfg        Config
	topic      string
	keyStateOf keyflow.KeyStateOf

	partitions []*partitionWorker
}

type partitionWorker struct {
	partition int32
	client    *kgo.Client
	committer *ingest.Committer
	flow      *keyflow.PartitionFlow
}

// New constructs a Consumer for cfg.AssignedPartitions. Connecting to Kafka
// and running recovery happens in starting, not here.
func New(cfg Config, keyStateOf keyflow.KeyStateOf, logger log.Logger) *Consumer {
	c := &Consumer{
		logger:     logger,
		cfg:        cfg,
		topic:      cfg.Kafka.Topic,
		keyStateOf: keyStateOf,
	}
	c.Service = services.NewBasicService(c.starting, c.running, c.stopping)
	return c
}

func (c *Consumer) starting(ctx context.Context) error {
	if c.cfg.Kafka.AutoCreateTopicEnabled {
		if err := c.cfg.Kafka.EnsureTopicPartitions(c.logger); err != nil {
			return fmt.Errorf("ensuring topic partitions: %w", err)
		}
	}

	for _, partition := range c.cfg.AssignedPartitions {
		w, err := c.startPartition(ctx, partition)
		if err != nil {
			c.closeStarted()
			return fmt.Errorf("starting partition %d: %w", partition, err)
		}
		c.partitions = append(c.partitions, w)
	}
	return nil
}

func (c *Consumer) startPartition(ctx context.Context, partition int32) (*partitionWorker, error) {
	adminClient, err := kgo.NewClient(kgo.SeedBrokers(c.cfg.Kafka.Address))
	if err != nil {
		return nil, fmt.Errorf("creating admin client: %w", err)
	}
	committer := ingest.NewCommitter(adminClient, c.cfg.Kafka.ConsumerGroup, c.topic, c.cfg.Kafka.CommitBackoff, c.logger)

	assignedAt, ok, err := committer.FetchCommitted(ctx, partition)
	if err != nil {
		adminClient.Close()
		return nil, fmt.Errorf("fetching committed offset: %w", err)
	}
	if !ok {
		assignedAt = 0
	}

	client, err := ingest.NewReaderClient(c.cfg.Kafka, c.topic, partition, int64(assignedAt), c.logger)
	if err != nil {
		adminClient.Close()
		return nil, fmt.Errorf("creating reader client: %w", err)
	}

	tp := keyflow.TopicPartition{Topic: c.topic, Partition: partition}
	flow, err := keyflow.New(ctx, tp, assignedAt, c.keyStateOf, keyflow.WithLogger(c.logger))
	if err != nil {
		client.Close()
		adminClient.Close()
		return nil, fmt.Errorf("recovering partition flow: %w", err)
	}

	level.Info(c.logger).Log("msg", "partition consumer started", "topic", c.topic, "partition", partition, "assigned_at", int64(assignedAt))
	return &partitionWorker{partition: partition, client: client, committer: committer, flow: flow}, nil
}

func (c *Consumer) closeStarted() {
	for _, w := range c.partitions {
		w.client.Close()
		w.flow.Close()
	}
	c.partitions = nil
}

func (c *Consumer) running(ctx context.Context) error {
	for _, w := range c.partitions {
		go c.runPartition(ctx, w)
	}
	<-ctx.Done()
	return nil
}

func (c *Consumer) runPartition(ctx context.Context, w *partitionWorker) {
	label := strconv.Itoa(int(w.partition))
	var lastApply time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		records, highWatermark, err := pollRecords(ctx, w.client, c.cfg.PollTimeout)
		if err != nil {
			metricFetchErrors.WithLabelValues(label).Inc()
			level.Error(c.logger).Log("msg", "poll failed", "partition", w.partition, "err", err)
			continue
		}

		// An empty batch only drives Apply once IdleTick has elapsed since
		// the last Apply call, so a partition with nothing to consume
		// doesn't tick the clock (and re-arbitrate the commit) on every
		// PollTimeout cycle.
		if len(records) == 0 && start.Sub(lastApply) < c.cfg.IdleTick {
			continue
		}
		lastApply = start

		offset, ok, err := w.flow.Apply(ctx, records)
		metricPollDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		metricKeysCached.WithLabelValues(label).Set(float64(w.flow.CachedKeyCount()))
		if err != nil {
			metricFlowFailures.WithLabelValues(label).Inc()
			level.Error(c.logger).Log("msg", "apply failed; partition consumer stopping", "partition", w.partition, "err", err)
			return
		}
		metricCommitDelta.WithLabelValues(label).Set(float64(w.flow.CurrentOffset() - w.flow.CommittedOffset()))
		if highWatermark >= 0 {
			metricPartitionLag.WithLabelValues(label).Set(float64(highWatermark) - float64(w.flow.CurrentOffset()))
		}
		if !ok {
			continue
		}

		if err := w.committer.Commit(ctx, w.partition, offset); err != nil {
			metricCommitErrors.WithLabelValues(label).Inc()
			level.Error(c.logger).Log("msg", "commit failed", "partition", w.partition, "offset", int64(offset), "err", err)
			continue
		}
		metricCommittedOffset.WithLabelValues(label).Set(float64(offset))
	}
}

// pollRecords reads one batch with a bounded wait, translating a timeout
// into an empty (idle) batch rather than an error: PartitionFlow.Apply still
// ticks timers and arbitrates commits on an empty batch. highWatermark is
// the broker's reported high watermark for the polled partition, or -1 if
// nothing was fetched this cycle.
func pollRecords(ctx context.Context, client *kgo.Client, timeout time.Duration) ([]keyflow.Record, int64, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := client.PollFetches(pollCtx)
	if err := fetches.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, -1, nil
		}
		return nil, -1, err
	}

	highWatermark := int64(-1)
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		highWatermark = p.HighWatermark
	})

	var records []keyflow.Record
	fetches.EachRecord(func(rec *kgo.Record) {
		var ts *time.Time
		if !rec.Timestamp.IsZero() {
			t := rec.Timestamp
			ts = &t
		}
		records = append(records, keyflow.Record{
			Key:       string(rec.Key),
			Offset:    keyflow.Offset(rec.Offset),
			Timestamp: ts,
			Value:     rec.Value,
		})
	})
	return records, highWatermark, nil
}

func (c *Consumer) stopping(err error) error {
	for _, w := range c.partitions {
		w.flow.Close()
		w.client.Close()
	}
	return err
}
