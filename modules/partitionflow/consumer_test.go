package partitionflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grafana/keyflow/modules/partitionflow"
	"github.com/grafana/keyflow/pkg/ingest"
	"github.com/grafana/keyflow/pkg/keyflow"
	"github.com/grafana/keyflow/pkg/keyflow/keyflowtest"
)

func TestConsumer_ConsumesAndCommitsProducedRecords(t *testing.T) {
	const topic = "consumer-test"

	fake, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	require.NoError(t, err)
	t.Cleanup(fake.Close)
	addr := fake.ListenAddrs()[0]

	produceClient, err := kgo.NewClient(kgo.SeedBrokers(addr))
	require.NoError(t, err)
	defer produceClient.Close()
	require.NoError(t, produceClient.ProduceSync(context.Background(), &kgo.Record{Topic: topic, Key: []byte("a"), Value: []byte("v1")}).FirstErr())

	cfg := partitionflow.Config{
		AssignedPartitions: []int32{0},
		PollTimeout:        200 * time.Millisecond,
		IdleTick:           time.Second,
	}
	cfg.Kafka.Address = addr
	cfg.Kafka.Topic = topic
	cfg.Kafka.ConsumerGroup = "consumer-test-group"
	cfg.Kafka.AutoCreateTopicEnabled = false
	cfg.Kafka.DialTimeout = 5 * time.Second

	stateOf := keyflowtest.NewMapKeyStateOf(func(ctx context.Context, key string, createdAt keyflow.Timestamp, kctx *keyflow.KeyContext) (keyflow.KeyState, error) {
		return keyflow.KeyState{
			Flow: func(ctx context.Context, records []keyflow.Record) error {
				kctx.Release() // no outstanding work: never blocks a commit
				return nil
			},
			Timers: keyflow.NewTimers(),
		}, nil
	})

	consumer := partitionflow.New(cfg, stateOf, log.NewNopLogger())
	require.NoError(t, consumer.StartAsync(context.Background()))
	require.NoError(t, consumer.AwaitRunning(context.Background()))
	defer func() {
		consumer.StopAsync()
		_ = consumer.AwaitTerminated(context.Background())
	}()

	committer := ingest.NewCommitter(produceClient, cfg.Kafka.ConsumerGroup, topic, cfg.Kafka.CommitBackoff, log.NewNopLogger())
	require.Eventually(t, func() bool {
		offset, ok, err := committer.FetchCommitted(context.Background(), 0)
		return err == nil && ok && offset >= 1
	}, 10*time.Second, 50*time.Millisecond, "expected the consumed record's offset-to-commit to be committed")
}
