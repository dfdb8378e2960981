package sync

import "time"

// Config holds configuration for the sync engine and its polling service
type Config struct {
	// PollInterval is how often every connection is synced in the background
	PollInterval time.Duration

	// ConcurrentConnections is the max number of connections synced at once
	ConcurrentConnections int

	// PageSize is the number of records requested per remote query page
	PageSize int

	// LockTTL is the lease of the per-connection sync lock
	LockTTL time.Duration

	// Enabled determines if background sync is enabled
	Enabled bool
}

// DefaultConfig returns the default sync configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:          15 * time.Minute,
		ConcurrentConnections: 3,
		PageSize:              100,
		LockTTL:               10 * time.Minute,
		Enabled:               true,
	}
}

// Validate fills unset values with defaults
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Minute
	}
	if c.ConcurrentConnections <= 0 {
		c.ConcurrentConnections = 3
	}
	if c.PageSize <= 0 || c.PageSize > 1000 {
		c.PageSize = 100
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	return nil
}
