// Package config loads the orchestrator's environment-driven
// configuration (§6's config table), using peterbourgon/ff/v3's
// flag+env binding the way spacechunks-explorer's cmd/controlplane
// wires its own service config.
package config

import (
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Config is the fully resolved runtime configuration for
// cmd/workbench-server.
type Config struct {
	ListenAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AWSRegion string
	ASGName   string

	MaxInstances    int
	WarmSpareTarget int

	IdleTimeoutMs     int64
	CleanupIntervalMs int64
	ReapBatchSize     int

	ReadinessMaxAttempts int
	ReadinessBackoffMs   int64

	AllocationTimeoutMs int64
	CloudRPCTimeoutMs   int64
	StoreRPCTimeoutMs   int64

	LogLevel  string
	LogFormat string
}

// Load parses args (typically os.Args[1:]) against a fresh flag set,
// binding every flag to its WORKBENCH_-prefixed environment variable
// per ff.WithEnvVarPrefix, and returns the resolved Config.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("workbench-server", flag.ContinueOnError)

	listenAddr := fs.String("listen-address", ":8080", "address the HTTP server listens on")

	redisAddr := fs.String("redis-addr", "127.0.0.1:6379", "address of the Redis instance backing the State Store")
	redisPassword := fs.String("redis-password", "", "password for the Redis instance, if any")
	redisDB := fs.Int("redis-db", 0, "Redis logical database index")

	awsRegion := fs.String("aws-region", "", "AWS region for the EC2/Auto Scaling clients")
	asgName := fs.String("asg-name", "", "name of the auto-scaling group this orchestrator controls")

	maxInstances := fs.Int("max-instances", 20, "upper bound on ASG desired capacity")
	warmSpareTarget := fs.Int("warm-spare-target", 2, "headroom of warm spares added to active_users")

	idleTimeoutMs := fs.Int64("idle-timeout-ms", 300_000, "reaper threshold for marking a user idle")
	cleanupIntervalMs := fs.Int64("cleanup-interval-ms", 60_000, "reaper tick period")
	reapBatchSize := fs.Int("reap-batch-size", 25, "maximum number of idle users processed per reaper tick")

	readinessMaxAttempts := fs.Int("readiness-max-attempts", 3, "number of readiness poll attempts after an instance launch")
	readinessBackoffMs := fs.Int64("readiness-backoff-ms", 60_000, "base spacing between readiness poll attempts")

	allocationTimeoutMs := fs.Int64("allocation-timeout-ms", 30_000, "deadline for a single allocation request (parsed; not applied by workbench-server)")
	cloudRPCTimeoutMs := fs.Int64("cloud-rpc-timeout-ms", 10_000, "timeout for a single Cloud Adapter call (parsed; not applied by workbench-server)")
	storeRPCTimeoutMs := fs.Int64("store-rpc-timeout-ms", 2_000, "timeout for a single State Store call (parsed; not applied by workbench-server)")

	logLevel := fs.String("log-level", "info", "log level: trace, debug, info, warn, error")
	logFormat := fs.String("log-format", "json", "log format: json or text")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("WORKBENCH")); err != nil {
		return nil, err
	}

	return &Config{
		ListenAddr:           *listenAddr,
		RedisAddr:            *redisAddr,
		RedisPassword:        *redisPassword,
		RedisDB:              *redisDB,
		AWSRegion:            *awsRegion,
		ASGName:              *asgName,
		MaxInstances:         *maxInstances,
		WarmSpareTarget:      *warmSpareTarget,
		IdleTimeoutMs:        *idleTimeoutMs,
		CleanupIntervalMs:    *cleanupIntervalMs,
		ReapBatchSize:        *reapBatchSize,
		ReadinessMaxAttempts: *readinessMaxAttempts,
		ReadinessBackoffMs:   *readinessBackoffMs,
		AllocationTimeoutMs:  *allocationTimeoutMs,
		CloudRPCTimeoutMs:    *cloudRPCTimeoutMs,
		StoreRPCTimeoutMs:    *storeRPCTimeoutMs,
		LogLevel:             *logLevel,
		LogFormat:            *logFormat,
	}, nil
}

// CleanupInterval, AllocationTimeout and ReadinessBackoff convert the
// millisecond config fields into time.Duration for callers that build
// tickers or deadlines, such as cmd/workbench-server's reaper wiring.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

func (c *Config) AllocationTimeout() time.Duration {
	return time.Duration(c.AllocationTimeoutMs) * time.Millisecond
}

func (c *Config) ReadinessBackoff() time.Duration {
	return time.Duration(c.ReadinessBackoffMs) * time.Millisecond
}
