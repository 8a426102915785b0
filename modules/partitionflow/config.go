package partitionflow

import (
	"flag"
	"time"

	"github.com/grafana/keyflow/pkg/ingest"
)

// Config configures a Consumer: the Kafka connection it reads from and
// commits to, the partitions this instance is assigned, and the cadence of
// its poll-and-apply cycle.
type Config struct {
	Kafka ingest.KafkaConfig `yaml:"kafka"`

	// AssignedPartitions are the partitions this instance owns. Static for
	// the lifetime of the process; dynamic reassignment is out of scope
	// (a host that needs it restarts the process with a new Config).
	AssignedPartitions []int32 `yaml:"-"`

	PollTimeout time.Duration `yaml:"poll_timeout"`
	IdleTick    time.Duration `yaml:"idle_tick"`
}

// RegisterFlagsAndApplyDefaults registers f's flags under prefix and sets
// defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.Kafka.RegisterFlagsAndApplyDefaults(prefix+".kafka", f)
	f.DurationVar(&cfg.PollTimeout, prefix+".poll-timeout", 2*time.Second, "Maximum time to wait for a single PollFetches call before treating the partition as idle.")
	f.DurationVar(&cfg.IdleTick, prefix+".idle-tick", 5*time.Second, "Minimum time between Apply calls driven purely by the clock, when a partition has no new records.")
}
