package config

import "fmt"

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `json:"driver"`
	// Path is the SQLite database file, ignored for the memory driver.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		c.Path = "cascade.db"
	}
}

// Validate checks the driver selection.
func (c StoreConfig) Validate() error {
	if c.Driver != "memory" && c.Driver != "sqlite" {
		return fmt.Errorf("unknown store driver %s", c.Driver)
	}
	if c.Driver == "sqlite" && c.Path == "" {
		return fmt.Errorf("path is required for the sqlite driver")
	}
	return nil
}
