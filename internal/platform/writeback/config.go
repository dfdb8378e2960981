package writeback

import "time"

// Config holds configuration for the write-back engine
type Config struct {
	// LockTTL is the lease of the per-record approval lock
	LockTTL time.Duration

	// MaxAttachmentBytes caps the size of an uploaded document
	MaxAttachmentBytes int
}

// DefaultConfig returns the default write-back configuration
func DefaultConfig() *Config {
	return &Config{
		LockTTL:            2 * time.Minute,
		MaxAttachmentBytes: 10 << 20,
	}
}

// Validate fills unset values with defaults
func (c *Config) Validate() error {
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.MaxAttachmentBytes <= 0 {
		c.MaxAttachmentBytes = 10 << 20
	}
	return nil
}
