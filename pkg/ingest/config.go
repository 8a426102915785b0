package ingest

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures the connection to the partitioned log a
// modules/partitionflow Consumer reads from and commits offsets to.
type KafkaConfig struct {
	Address       string        `yaml:"address"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`

	AutoCreateTopicEnabled           bool `yaml:"auto_create_topic_enabled"`
	AutoCreateTopicDefaultPartitions int  `yaml:"auto_create_topic_default_partitions"`

	CommitBackoff backoff.Config `yaml:"commit_backoff"`
}

// RegisterFlagsAndApplyDefaults registers f's flags under prefix and sets
// defaults matching a small local Kafka deployment.
func (cfg *KafkaConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Address, prefix+".address", "localhost:9092", "The Kafka seed broker address.")
	f.StringVar(&cfg.Topic, prefix+".topic", "", "The Kafka topic to consume.")
	f.StringVar(&cfg.ConsumerGroup, prefix+".consumer-group", "", "The Kafka consumer group used for offset commits.")
	f.DurationVar(&cfg.DialTimeout, prefix+".dial-timeout", 10*time.Second, "The maximum time to wait for a connection to a Kafka broker.")
	f.DurationVar(&cfg.WriteTimeout, prefix+".write-timeout", 10*time.Second, "The maximum time to wait for a write to a Kafka broker.")
	f.BoolVar(&cfg.AutoCreateTopicEnabled, prefix+".auto-create-topic-enabled", true, "Create the configured topic if it does not exist.")
	f.IntVar(&cfg.AutoCreateTopicDefaultPartitions, prefix+".auto-create-topic-default-partitions", 1000, "Number of partitions to create the topic with, if auto-creation is enabled and the topic is absent.")

	cfg.CommitBackoff = backoff.Config{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		MaxRetries: 10,
	}
}

// EnsureTopicPartitions creates the configured topic with
// AutoCreateTopicDefaultPartitions partitions if it is absent, or grows it
// up to that count if it exists with fewer. It never shrinks a topic.
func (cfg *KafkaConfig) EnsureTopicPartitions(logger log.Logger) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Address),
		kgo.DialTimeout(cfg.DialTimeout),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("creating admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	defer adm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	topics, err := adm.ListTopics(ctx, cfg.Topic)
	if err != nil {
		return fmt.Errorf("listing topics: %w", err)
	}

	desired := cfg.AutoCreateTopicDefaultPartitions
	td, exists := topics[cfg.Topic]
	if !exists || td.Err != nil {
		_, err := adm.CreateTopic(ctx, int32(desired), -1, nil, cfg.Topic)
		if err != nil {
			return fmt.Errorf("creating topic %q: %w", cfg.Topic, err)
		}
		level.Info(logger).Log("msg", "created topic", "topic", cfg.Topic, "partitions", desired)
		return nil
	}

	existing := len(td.Partitions.Numbers())
	if existing >= desired {
		return nil
	}

	if _, err := adm.CreatePartitions(ctx, desired, cfg.Topic); err != nil {
		return fmt.Errorf("growing topic %q to %d partitions: %w", cfg.Topic, desired, err)
	}
	level.Info(logger).Log("msg", "grew topic partitions", "topic", cfg.Topic, "from", existing, "to", desired)
	return nil
}
