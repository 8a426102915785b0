package main

import (
	"flag"
	"strconv"
	"strings"

	"github.com/grafana/keyflow/modules/partitionflow"
	utillog "github.com/grafana/keyflow/pkg/util/log"
)

// Config is the root configuration for the demo consumer binary: the
// process-wide logger plus one partitionflow.Consumer.
type Config struct {
	Log           utillog.Config       `yaml:"log"`
	PartitionFlow partitionflow.Config `yaml:"partitionflow"`
}

// RegisterFlagsAndApplyDefaults registers every flag this config owns,
// recursing into its component configs the way app.Config does for tempo.
func (c *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	c.Log.RegisterFlagsAndApplyDefaults("log", f)
	c.PartitionFlow.RegisterFlagsAndApplyDefaults("partitionflow", f)
	f.Var((*int32CSV)(&c.PartitionFlow.AssignedPartitions), "partitionflow.partitions", "Comma-separated list of partitions this process consumes.")
}

// int32CSV is a flag.Value adapting a comma-separated partition list to
// []int32. AssignedPartitions carries yaml:"-" because assignment is a
// host concern, not something a config file should pin.
type int32CSV []int32

func (v *int32CSV) String() string {
	if v == nil {
		return ""
	}
	parts := make([]string, len(*v))
	for i, p := range *v {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}

func (v *int32CSV) Set(s string) error {
	var out []int32
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return err
		}
		out = append(out, int32(n))
	}
	*v = out
	return nil
}
