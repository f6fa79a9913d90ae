// Package logging builds the hclog loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Config controls the root logger.
type Config struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// New returns the root logger writing to stderr.
func New(cfg Config) hclog.Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput returns the root logger writing to w.
func NewWithOutput(cfg Config, w io.Writer) hclog.Logger {
	level := hclog.LevelFromString(strings.TrimSpace(cfg.Level))
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "fitcache",
		Level:      level,
		Output:     w,
		JSONFormat: cfg.JSON,
	})
}

// OrNull returns l, or a discarding logger when l is nil.
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
