// Package log holds the process-wide logger keyflow's host binary
// initializes at startup. Library code never constructs its own logger from
// here; it takes a log.Logger as a constructor argument so tests can inject
// a no-op one.
package log

import (
	"flag"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/time/rate"
)

// Logger is the process-wide logger. It is a no-op until InitLogger runs;
// package init order must not depend on it being configured yet.
var Logger = log.NewNopLogger()

// Config configures the process-wide logger's level and format.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RegisterFlagsAndApplyDefaults registers f's flags under prefix.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Level, prefix+".log-level", "info", "Minimum level to log at: debug, info, warn, error.")
	f.StringVar(&cfg.Format, prefix+".log-format", "logfmt", "Log line format: logfmt or json.")
}

// InitLogger builds the process-wide Logger from cfg and stamps it with the
// caller's file:line. It must run once, before any module starts logging.
func InitLogger(cfg Config) {
	var logger log.Logger
	if cfg.Format == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5))
	logger = level.NewFilter(logger, levelOption(cfg.Level))
	Logger = logger
}

func levelOption(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// NewRateLimitedLogger wraps logger so it emits at most logsPerSecond lines
// per second, dropping the rest. Useful for per-record error paths that
// could otherwise flood stdout under sustained broker errors.
func NewRateLimitedLogger(logsPerSecond int, logger log.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		limiter: rate.NewLimiter(rate.Limit(logsPerSecond), 1),
		logger:  logger,
	}
}

// RateLimitedLogger is a log.Logger that drops lines once logsPerSecond is
// exceeded.
type RateLimitedLogger struct {
	limiter *rate.Limiter
	logger  log.Logger
}

func (l *RateLimitedLogger) Log(keyvals ...interface{}) error {
	if !l.limiter.AllowN(time.Now(), 1) {
		return nil
	}
	return l.logger.Log(keyvals...)
}
