package engine

import "github.com/ringcore/ioring/internal/proto"

// Config holds the negotiated setup parameters for an Engine, built up
// by applying a chain of Option funcs to a Params block.
type Config struct {
	params proto.Params

	workerPoolSize   int
	unboundedWorkers bool
	pollInterval     int64 // nanoseconds, poller wait-loop tick
	singleIssuer     bool
	sqPoll           bool
	sqPollIdleNanos  int64
}

const (
	defaultWorkerPoolSize = 8
	defaultPollIntervalNs = int64(500_000) // 500us
)

func defaultConfig() *Config {
	return &Config{
		workerPoolSize: defaultWorkerPoolSize,
		pollInterval:   defaultPollIntervalNs,
	}
}

// Option configures an Engine at construction time.
type Option func(*Config)

// WithSQEntries sets the submission ring's logical capacity.
func WithSQEntries(n uint32) Option {
	return func(c *Config) { c.params.SQEntries = n }
}

// WithCQEntries sets the completion ring's logical capacity.
func WithCQEntries(n uint32) Option {
	return func(c *Config) { c.params.CQEntries = n }
}

// WithWorkerPoolSize sets the bounded worker group's goroutine count.
func WithWorkerPoolSize(n int) Option {
	return func(c *Config) { c.workerPoolSize = n }
}

// WithUnboundedWorkers enables the unbounded worker group for ops that
// opt out of concurrency limits.
func WithUnboundedWorkers() Option {
	return func(c *Config) { c.unboundedWorkers = true }
}

// WithSingleIssuer marks the ring as having exactly one submitting task,
// allowing the submission path to skip the SQ lock.
func WithSingleIssuer() Option {
	return func(c *Config) {
		c.singleIssuer = true
		c.params.Flags |= proto.SetupSingleIssuer
	}
}

// WithSQPoll runs a dedicated submission thread that polls the SQ ring
// instead of requiring explicit Submit calls.
func WithSQPoll(idleNanos int64) Option {
	return func(c *Config) {
		c.sqPoll = true
		c.sqPollIdleNanos = idleNanos
		c.params.Flags |= proto.SetupSQPoll
	}
}

// WithPollInterval sets the poller's wait-loop tick: the portable
// fallback's probe interval, and on Linux the EpollWait timeout (whole
// milliseconds only; see newPollBackend).
func WithPollInterval(ns int64) Option {
	return func(c *Config) { c.pollInterval = ns }
}
