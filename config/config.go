package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fluxfret/cascade/affretia"
	"github.com/fluxfret/cascade/core/metrics"
	"github.com/fluxfret/cascade/core/scheduler"
	"github.com/fluxfret/cascade/infra/notify"
)

type Config struct {
	API       APIConfig          `json:"api"`
	Store     StoreConfig        `json:"store"`
	Scheduler scheduler.Config   `json:"scheduler"`
	Affretia  AffretiaConfig     `json:"affretia"`
	Notify    NotifyConfig       `json:"notify"`
	Metrics   metrics.Config     `json:"metrics"`
	Fixtures  FixturesConfig     `json:"fixtures"`
	Scoring   map[string]float64 `json:"scoring"`
}

// AffretiaConfig wraps the broker client settings with an enable switch.
// A disabled broker means exhausted chains end in the exhausted state.
type AffretiaConfig struct {
	Enabled bool `json:"enabled"`
	affretia.Config
}

// NotifyConfig selects the carrier notification backend.
type NotifyConfig struct {
	// Backend is "mqtt" or "log".
	Backend string            `json:"backend"`
	MQTT    notify.MQTTConfig `json:"mqtt"`
}

// SetDefaults applies sane defaults.
func (c *NotifyConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "log"
	}
}

// Validate checks the backend selection.
func (c NotifyConfig) Validate() error {
	if c.Backend != "mqtt" && c.Backend != "log" {
		return fmt.Errorf("unknown notify backend %s", c.Backend)
	}
	return nil
}

// FixturesConfig points at seed files loaded on startup.
type FixturesConfig struct {
	LanesPath  string `json:"lanes_path"`
	OrdersPath string `json:"orders_path"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("CASCADE_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "cascade_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.API.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.Scheduler.SetDefaults()
	cfg.Notify.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.API.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Notify.Validate(); err != nil {
		return nil, err
	}
	if cfg.Affretia.Enabled {
		cfg.Affretia.SetDefaults()
		if err := cfg.Affretia.Config.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
