// config.go - Machine configuration file and logger setup
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"
	"gopkg.in/yaml.v3"
)

// MachineConfig describes one machine: firmware, drives, console and run
// limits. Command line flags override values read from a file.
type MachineConfig struct {
	BIOS     string `toml:"bios" yaml:"bios"`
	Floppy   string `toml:"floppy" yaml:"floppy"`
	HardDisk string `toml:"hard_disk" yaml:"hard_disk"`
	Terminal string `toml:"terminal" yaml:"terminal"`

	MaxSteps    uint64 `toml:"max_steps" yaml:"max_steps"`
	UntilScript string `toml:"until" yaml:"until"`
	Break       string `toml:"break" yaml:"break"` // e.g. "[0000:7C00]==$EB" or "AX==$3"

	Trace     bool    `toml:"trace" yaml:"trace"`
	TraceRate float64 `toml:"trace_rate" yaml:"trace_rate"` // lines per second, 0 = unlimited
}

// LoadConfig reads a .toml, .yaml or .yml machine description.
func LoadConfig(path string) (*MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "reading config: %v", err)
	}

	cfg := &MachineConfig{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, errors.Wrapf(ErrConfiguration, "config %s: unknown format %q", path, ext)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "config %s: %v", path, err)
	}
	return cfg, nil
}

// Validate checks the fields a machine cannot start without.
func (m *MachineConfig) Validate() error {
	if m.BIOS == "" {
		return errors.Wrap(ErrConfiguration, "no BIOS image given")
	}
	if m.Break != "" {
		if _, err := ParseCondition(m.Break); err != nil {
			return err
		}
	}
	if m.TraceRate < 0 {
		return errors.Wrapf(ErrConfiguration, "trace rate %g is negative", m.TraceRate)
	}
	return nil
}

// CreateLogger creates a logger with appropriate settings
func CreateLogger(debug, quiet bool) *log.Logger {
	cfg := log.DefaultConfig()
	if debug {
		cfg.Level = log.DebugLevel
	} else if quiet {
		cfg.Level = log.ErrorLevel
	}
	return log.NewWithConfig(cfg)
}
