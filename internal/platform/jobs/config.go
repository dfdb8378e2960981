package jobs

// Config holds configuration for the job dispatcher
type Config struct {
	// Workers is the number of jobs run at once
	Workers int

	// QueueSize is the number of jobs that may wait for a worker
	QueueSize int

	// MaxRetained is the number of finished jobs kept for polling
	MaxRetained int
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:     4,
		QueueSize:   100,
		MaxRetained: 500,
	}
}

// Validate fills unset values with defaults
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.MaxRetained <= 0 {
		c.MaxRetained = 500
	}
	return nil
}
