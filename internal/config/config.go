package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads, defaults and validates the YAML configuration at path. The
// returned value is treated as immutable by every consumer.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Dump renders the effective configuration as YAML for the startup log.
// Secrets are redacted.
func (c *Config) Dump() string {
	clone := *c
	if clone.Notify.Telegram.BotToken != "" {
		clone.Notify.Telegram.BotToken = "***"
	}
	if clone.Exchange.APISecret != "" {
		clone.Exchange.APISecret = "***"
	}
	out, err := yaml.Marshal(&clone)
	if err != nil {
		return fmt.Sprintf("config dump failed: %v", err)
	}
	return string(out)
}
