package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load unmarshals v over the defaults. A configured agents list replaces the
// default agents entirely rather than merging into them.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()
	cfg.Agents = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	return cfg, nil
}
