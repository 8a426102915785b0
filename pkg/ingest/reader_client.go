package ingest

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// NewReaderClient returns a kgo.Client consuming partition of topic directly
// (ConsumePartitions, not a balanced group), starting at fromOffset. The
// client commits no offsets itself — callers read committedOffset from
// keyflow.PartitionFlow and persist it via Committer.
func NewReaderClient(cfg KafkaConfig, topic string, partition int32, fromOffset int64, logger log.Logger, extraOpts ...kgo.Opt) (*kgo.Client, error) {
	opts := append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Address),
		kgo.DialTimeout(cfg.DialTimeout),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			topic: {partition: kgo.NewOffset().At(fromOffset)},
		}),
	}, extraOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	level.Info(logger).Log("msg", "kafka reader client started", "topic", topic, "partition", partition, "from_offset", fromOffset)
	return client, nil
}

// LeaveConsumerGroupByInstanceID asks the broker to remove instanceID from
// group, so a static-membership consumer releasing a partition does not wait
// out the session timeout before its partitions are reassigned. An empty
// instanceID is a no-op: dynamic members leave automatically on disconnect.
func LeaveConsumerGroupByInstanceID(ctx context.Context, client *kgo.Client, group, instanceID string, logger log.Logger) error {
	if instanceID == "" {
		return nil
	}

	req := kmsg.NewLeaveGroupRequest()
	req.Group = group
	req.Members = []kmsg.LeaveGroupRequestMember{{InstanceID: &instanceID}}

	kresp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("sending leave-group request: %w", err)
	}
	resp, ok := kresp.(*kmsg.LeaveGroupResponse)
	if !ok {
		return fmt.Errorf("unexpected leave-group response type %T", kresp)
	}
	if err := kerrFromCode(resp.ErrorCode); err != nil {
		return fmt.Errorf("leave-group request failed: %w", err)
	}
	level.Info(logger).Log("msg", "left consumer group", "group", group, "instance_id", instanceID)
	return nil
}
