// File: config/config.go
// Configuration surface for servers built on the framework.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures the settings of a reactor server process.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NETREACTOR_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the listener and reactor-pool settings.
	Server ServerConfig `mapstructure:"server"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Valid values: DEBUG, INFO, WARN, ERROR, FATAL (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// ServerConfig contains the listener and reactor-pool settings.
type ServerConfig struct {
	// ListenIP is the dotted IPv4 bind address; 0.0.0.0 binds all.
	ListenIP string `mapstructure:"listen_ip" validate:"required,ipv4"`

	// Port is the TCP listen port.
	Port uint16 `mapstructure:"port" validate:"required"`

	// IOThreads is the number of I/O reactors; 0 selects hardware
	// concurrency at server construction.
	IOThreads int `mapstructure:"io_threads" validate:"gte=0,lte=1024"`

	// TimeoutSeconds is the idle-connection cutoff. ApplyDefaults replaces 0
	// with DefaultTimeoutSeconds, so the cutoff cannot be disabled here.
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"gte=0"`

	// HighWaterMark is the output-buffer back-pressure threshold in bytes.
	HighWaterMark int `mapstructure:"high_water_mark" validate:"gt=0"`
}

// Load reads configuration from path (optional), environment variables and
// defaults, then validates the result. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NETREACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about; bind every key so the
	// environment applies even when the file does not set it.
	for _, key := range []string{
		"logging.level",
		"server.listen_ip",
		"server.port",
		"server.io_threads",
		"server.timeout_seconds",
		"server.high_water_mark",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
