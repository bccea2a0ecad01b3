// Package config loads the messaging client configuration.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API    APIConfig    `mapstructure:"api"`
	WS     WSConfig     `mapstructure:"ws"`
	Typing TypingConfig `mapstructure:"typing"`
	Voice  VoiceConfig  `mapstructure:"voice"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RetryMaxElapsed bounds the retry window for transient REST failures.
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
}

type WSConfig struct {
	URL string `mapstructure:"url"`
	// HandshakeTimeout bounds one dial attempt, not the whole reconnect loop.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type TypingConfig struct {
	// Debounce is the inactivity window after which stop-typing is emitted.
	Debounce time.Duration `mapstructure:"debounce"`
	// TTL is the decay of remote typing indicators without a refresh.
	TTL time.Duration `mapstructure:"ttl"`
	// Sweep is the removal scan interval, at most one second.
	Sweep time.Duration `mapstructure:"sweep"`
}

type VoiceConfig struct {
	// MaxDuration is the hard auto-stop for a recording session.
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:         "http://127.0.0.1:8080/api/v1",
			Timeout:         15 * time.Second,
			RetryMaxElapsed: 30 * time.Second,
		},
		WS: WSConfig{
			URL:              "ws://127.0.0.1:8080/ws",
			HandshakeTimeout: 10 * time.Second,
		},
		Typing: TypingConfig{
			Debounce: 3 * time.Second,
			TTL:      5 * time.Second,
			Sweep:    time.Second,
		},
		Voice: VoiceConfig{
			MaxDuration: 300 * time.Second,
		},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
