package logship

import "time"

const (
	defaultBatchSize     = 100
	defaultMaxBatchBytes = 5 << 20
	defaultFlushInterval = 5 * time.Second
)

// Config defines how the Shipper buffers, batches, and delivers entries.
type Config struct {
	// BatchSize bounds both the in-memory buffer (a full buffer is
	// persisted immediately) and the number of entries one delivery pass
	// pulls from the queue.
	BatchSize int
	// MaxBatchBytes is a soft cap on the cumulative payload size of one
	// batch. A single entry above the cap is still sent alone.
	MaxBatchBytes int
	// FlushInterval is the period of the background flush timer.
	FlushInterval time.Duration
	// MinLevel drops entries below this severity before buffering.
	MinLevel Level
	// Fields are static fields merged into every record.
	Fields  map[string]any
	Clock   Clock
	Logger  Logger
	Metrics Metrics
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = defaultMaxBatchBytes
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.MinLevel <= 0 {
		c.MinLevel = LevelDebug
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// Option configures Shipper behavior.
type Option func(*Config)

// WithBatchSize sets the entry-count ceiling per batch.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// WithMaxBatchBytes sets the byte-size ceiling per batch.
func WithMaxBatchBytes(limit int) Option {
	return func(c *Config) {
		c.MaxBatchBytes = limit
	}
}

// WithFlushInterval sets the background flush period.
func WithFlushInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.FlushInterval = interval
	}
}

// WithMinLevel sets the minimum severity to process.
func WithMinLevel(level Level) Option {
	return func(c *Config) {
		c.MinLevel = level
	}
}

// WithFields sets static fields included in every record.
func WithFields(fields map[string]any) Option {
	return func(c *Config) {
		c.Fields = fields
	}
}

// WithClock sets the time source for entry timestamps.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the shipper's operational logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the delivery metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}
