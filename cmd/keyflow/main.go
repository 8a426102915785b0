package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/drone/envsubst"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"gopkg.in/yaml.v3"

	"github.com/grafana/keyflow/modules/partitionflow"
	utillog "github.com/grafana/keyflow/pkg/util/log"
)

func main() {
	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	utillog.InitLogger(config.Log)

	stateOf := newCounterKeyStateOf(utillog.Logger)
	consumer := partitionflow.New(config.PartitionFlow, stateOf, utillog.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.StartAsync(ctx); err != nil {
		level.Error(utillog.Logger).Log("msg", "error starting partition consumer", "err", err)
		os.Exit(1)
	}
	if err := consumer.AwaitRunning(ctx); err != nil {
		level.Error(utillog.Logger).Log("msg", "partition consumer failed to reach running", "err", err)
		os.Exit(1)
	}
	level.Info(utillog.Logger).Log("msg", "keyflow demo consumer running", "topic", config.PartitionFlow.Kafka.Topic, "partitions", fmt.Sprint(config.PartitionFlow.AssignedPartitions))

	<-ctx.Done()
	consumer.StopAsync()
	if err := consumer.AwaitTerminated(context.Background()); err != nil {
		level.Error(utillog.Logger).Log("msg", "error stopping partition consumer", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
	)

	var (
		configFile      string
		configExpandEnv bool
	)

	args := os.Args[1:]
	config := &Config{}

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")

	// Parsing stops on the first unknown flag; retry against the
	// remaining args until config.file/config.expand-env are found or
	// there's nothing left to try.
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	config.RegisterFlagsAndApplyDefaults(flag.CommandLine)

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buf))
			if err != nil {
				return nil, fmt.Errorf("failed to expand env vars from configFile %s: %w", configFile, err)
			}
			buf = []byte(s)
		}
		if err := yaml.Unmarshal(buf, config); err != nil {
			return nil, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flag.Parse()

	return config, nil
}
