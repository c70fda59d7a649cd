package config

import (
	"time"
)

// Config holds the knobs controlling chunk download and decode
// behaviour. A nil Config is always replaced with WithDefaults().
type Config struct {
	// maximum number of chunk downloads running concurrently
	MaxDownloadThreads int

	// cap on the number of downloaded chunks allowed to sit in memory
	// waiting to be consumed
	MaxFilesInMemory int

	// safety margin subtracted from a link's expiry time. A link is
	// treated as invalid once expiry minus this margin has passed.
	MinTimeToExpiry time.Duration

	// number of download attempts per chunk before giving up
	MaxDownloadRetries int

	// fixed delay between download attempts
	DownloadRetryDelay time.Duration

	// named codec the server compressed chunk payloads with:
	// none, lz4, zstd or gzip
	CompressionCodec string

	// interval between keep-alive pings while downloads are running
	HeartbeatInterval time.Duration

	DriverName    string
	DriverVersion string

	// TestOverrides is only ever non-nil in tests.
	TestOverrides *TestOverrides
}

// TestOverrides gathers the switches test doubles need. They are
// injected here at construction instead of living in mutable globals.
type TestOverrides struct {
	// skip the link expiry check when running against a fake backend
	// whose links carry no meaningful expiry
	DisableExpiryCheck bool

	// when non-nil, Chunk.Download fails with this error before doing
	// any network I/O
	InjectDownloadFailure error
}

func WithDefaults() *Config {
	return &Config{
		MaxDownloadThreads: 10,
		MaxFilesInMemory:   10,
		MinTimeToExpiry:    60 * time.Second,
		MaxDownloadRetries: 5,
		DownloadRetryDelay: 1500 * time.Millisecond,
		CompressionCodec:   "none",
		HeartbeatInterval:  30 * time.Second,
		DriverName:         "gomistlakesqlconnector",
		DriverVersion:      "0.1.0",
	}
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	var overrides *TestOverrides
	if c.TestOverrides != nil {
		o := *c.TestOverrides
		overrides = &o
	}

	return &Config{
		MaxDownloadThreads: c.MaxDownloadThreads,
		MaxFilesInMemory:   c.MaxFilesInMemory,
		MinTimeToExpiry:    c.MinTimeToExpiry,
		MaxDownloadRetries: c.MaxDownloadRetries,
		DownloadRetryDelay: c.DownloadRetryDelay,
		CompressionCodec:   c.CompressionCodec,
		HeartbeatInterval:  c.HeartbeatInterval,
		DriverName:         c.DriverName,
		DriverVersion:      c.DriverVersion,
		TestOverrides:      overrides,
	}
}
