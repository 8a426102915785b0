package ingest

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grafana/keyflow/pkg/keyflow"
)

// Committer persists a partition's committed offset to the consumer
// group's offset store, retrying transient broker errors. It is the only
// place modules/partitionflow talks to the broker about commits; keyflow's
// core only ever hands back the Offset to commit.
type Committer struct {
	adm     *kadm.Client
	group   string
	topic   string
	backoff backoff.Config
	logger  log.Logger
}

// NewCommitter wraps client in a kadm admin client bound to group/topic.
func NewCommitter(client *kgo.Client, group, topic string, backoffCfg backoff.Config, logger log.Logger) *Committer {
	return &Committer{
		adm:     kadm.NewClient(client),
		group:   group,
		topic:   topic,
		backoff: backoffCfg,
		logger:  logger,
	}
}

// Commit persists offset (from keyflow.PartitionFlow.Apply) as the resume
// position for partition, retrying on transient failures per c.backoff.
// offset is already the offset-to-commit (one past the last processed
// record); callers must not add one again.
func (c *Committer) Commit(ctx context.Context, partition int32, offset keyflow.Offset) error {
	offsets := make(kadm.Offsets)
	offsets.Add(kadm.Offset{
		Topic:     c.topic,
		Partition: partition,
		At:        int64(offset),
	})

	boff := backoff.New(ctx, c.backoff)
	var lastErr error
	for boff.Ongoing() {
		resp, err := c.adm.CommitOffsets(ctx, c.group, offsets)
		if err == nil {
			if commitErr := resp.Error(); commitErr != nil {
				lastErr = commitErr
			} else {
				level.Debug(c.logger).Log("msg", "committed offset", "group", c.group, "topic", c.topic, "partition", partition, "offset", int64(offset))
				return nil
			}
		} else {
			lastErr = err
		}

		if !HandleKafkaError(lastErr, func() {}) {
			return fmt.Errorf("committing offset %d for partition %d: %w", offset, partition, lastErr)
		}
		boff.Wait()
	}
	return fmt.Errorf("committing offset %d for partition %d after %d retries: %w", offset, partition, boff.NumRetries(), lastErr)
}

// FetchCommitted returns the last committed offset for partition, or
// ok=false if the group has never committed one (a new consumer group, or a
// group ID the broker has forgotten after its retention window expired).
func (c *Committer) FetchCommitted(ctx context.Context, partition int32) (offset keyflow.Offset, ok bool, err error) {
	offsets, err := c.adm.FetchOffsetsForTopics(ctx, c.group, c.topic)
	if err != nil {
		return 0, false, fmt.Errorf("fetching committed offset: %w", err)
	}
	o, exists := offsets.Lookup(c.topic, partition)
	if !exists || o.Err != nil {
		return 0, false, nil
	}
	return keyflow.Offset(o.At), true, nil
}
