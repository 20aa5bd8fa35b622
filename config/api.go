package config

import "fmt"

// APIConfig defines the HTTP listener settings.
type APIConfig struct {
	// Addr is the listen address of the dispatch API.
	Addr string `json:"addr"`
	// Token, when set, is required as a bearer token on mutating endpoints.
	// The Affretia callback route uses its own shared secret instead.
	Token string `json:"token"`
	// CallbackSecret authenticates incoming Affretia callbacks.
	CallbackSecret string `json:"callback_secret"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Validate checks mandatory fields.
func (c APIConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	return nil
}
