package scheduler

import "fmt"

// Config defines the scan loop parameters.
type Config struct {
	// IntervalSeconds is the delay between scans.
	IntervalSeconds int `json:"interval_seconds"`
	// Workers bounds how many chains are processed concurrently per tick.
	Workers int `json:"workers"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 60
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.IntervalSeconds < 0 {
		return fmt.Errorf("interval_seconds must be positive")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be positive")
	}
	return nil
}
