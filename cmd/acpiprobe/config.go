package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinyrange/acpiprobe/internal/acpi"
	"gopkg.in/yaml.v3"
)

// probeConfig is the optional YAML file passed with -config. Flags given on
// the command line override it.
type probeConfig struct {
	// Windows replaces the default RSDP search windows.
	Windows []acpi.Window `yaml:"windows"`

	// Image selects a raw physical memory dump instead of /dev/mem.
	Image     string `yaml:"image"`
	ImageBase uint64 `yaml:"image_base"`

	DevMem string `yaml:"devmem"`

	Color    string `yaml:"color"`     // auto, always or never
	LogLevel string `yaml:"log_level"` // debug, info, warn or error
}

const maxConfigSize = 1024 * 1024

func defaultConfig() probeConfig {
	return probeConfig{Color: "auto", LogLevel: "warn"}
}

func loadConfig(path string) (probeConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return cfg, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > maxConfigSize {
		return cfg, fmt.Errorf("config file %q too large (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}

	slog.Debug("loaded config", "path", path, "windows", len(cfg.Windows))
	return cfg, nil
}

func (c probeConfig) validate() error {
	for i, w := range c.Windows {
		if w.Limit <= w.Base {
			return fmt.Errorf("window %d: limit 0x%x not above base 0x%x", i, w.Limit, w.Base)
		}
	}

	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("unknown color mode %q", c.Color)
	}

	if _, err := c.level(); err != nil {
		return err
	}

	if c.Image != "" && c.DevMem != "" {
		return errors.New("image and devmem are mutually exclusive")
	}
	return nil
}

func (c probeConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func checkCPUs(n int) error {
	if n < 1 || n > acpi.MaxCPUs {
		return fmt.Errorf("cpus must be between 1 and %d, got %d", acpi.MaxCPUs, n)
	}
	return nil
}
