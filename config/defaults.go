// File: config/defaults.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import "strings"

// Default values applied to unspecified fields.
const (
	DefaultListenIP       = "0.0.0.0"
	DefaultPort           = 9100
	DefaultTimeoutSeconds = 300
	DefaultHighWaterMark  = 64 * 1024 * 1024
)

// ApplyDefaults fills zero-valued fields with defaults. Explicit values are
// preserved; IOThreads deliberately keeps 0, meaning hardware concurrency.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if cfg.Server.ListenIP == "" {
		cfg.Server.ListenIP = DefaultListenIP
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.TimeoutSeconds == 0 {
		cfg.Server.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Server.HighWaterMark == 0 {
		cfg.Server.HighWaterMark = DefaultHighWaterMark
	}
}
