package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/motorctl/internal/device"
)

// Config holds application configuration
type Config struct {
	LogLevel           string        `yaml:"log_level" default:"error"`
	Backend            string        `yaml:"backend" default:"go-ble"`
	ScanWindow         time.Duration `yaml:"scan_window" default:"5s"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"15s"`
	ReleaseAfter       time.Duration `yaml:"release_after" default:"600ms"` // drive: no key repeat for this long sends stop
	OutputFormat       string        `yaml:"output_format" default:"table"`
	ServiceUUID        string        `yaml:"service_uuid" default:"0A66A21A-422A-4A97-9AF3-575E67A55C7E"`
	CharacteristicUUID string        `yaml:"characteristic_uuid" default:"CC67E36C-323A-4E36-A33E-039B3E452285"`
}

// OutputFormats lists the accepted values of OutputFormat
var OutputFormats = []string{"table", "json"}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load returns the defaults overridden by the YAML file at path.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and formats
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.ScanWindow <= 0 {
		return fmt.Errorf("scan_window must be positive, got %s", c.ScanWindow)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.ReleaseAfter <= 0 {
		return fmt.Errorf("release_after must be positive, got %s", c.ReleaseAfter)
	}

	valid := false
	for _, f := range OutputFormats {
		if strings.EqualFold(c.OutputFormat, f) {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("output_format must be one of %s, got %q", strings.Join(OutputFormats, ", "), c.OutputFormat)
	}

	if _, err := device.ValidateUUID(c.ServiceUUID, c.CharacteristicUUID); err != nil {
		return fmt.Errorf("service_uuid/characteristic_uuid: %w", err)
	}
	return nil
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
