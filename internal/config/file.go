package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileOverlay mirrors Config's fields as an optional YAML document; any
// field left unset in the file keeps the value already present in base.
type fileOverlay struct {
	ListenPort              *int      `yaml:"listen_port"`
	LogPath                 *string   `yaml:"log_path"`
	WatchDomains            *[]string `yaml:"watch_domains"`
	Verbose                 *bool     `yaml:"verbose"`
	CertDir                 *string   `yaml:"cert_dir"`
	StructuredLogDir        *string   `yaml:"structured_log_dir"`
	LogRotateSchedule       *string   `yaml:"log_rotate_schedule"`
	SubscriberBufferSize    *int      `yaml:"subscriber_buffer_size"`
	StructuredFlushInterval *Duration `yaml:"structured_flush_interval"`
}

// LoadFileOverlay applies a YAML config file on top of base, returning a new
// Config. A missing file is not an error — base is returned unchanged — but
// a present, malformed file is.
func LoadFileOverlay(path string, base *Config) (*Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	merged := *base
	if overlay.ListenPort != nil {
		merged.ListenPort = *overlay.ListenPort
	}
	if overlay.LogPath != nil {
		merged.LogPath = *overlay.LogPath
	}
	if overlay.WatchDomains != nil {
		merged.WatchDomains = *overlay.WatchDomains
	}
	if overlay.Verbose != nil {
		merged.Verbose = *overlay.Verbose
	}
	if overlay.CertDir != nil {
		merged.CertDir = *overlay.CertDir
	}
	if overlay.StructuredLogDir != nil {
		merged.StructuredLogDir = *overlay.StructuredLogDir
	}
	if overlay.LogRotateSchedule != nil {
		merged.LogRotateSchedule = *overlay.LogRotateSchedule
	}
	if overlay.SubscriberBufferSize != nil {
		merged.SubscriberBufferSize = *overlay.SubscriberBufferSize
	}
	if overlay.StructuredFlushInterval != nil {
		merged.StructuredFlushInterval = *overlay.StructuredFlushInterval
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}
