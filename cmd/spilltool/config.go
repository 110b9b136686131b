package main

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/twlk9/spillmap"
	"github.com/twlk9/spillmap/compression"
)

// Config is the sort configuration. It is read from a YAML file and then
// overridden by command line flags.
type Config struct {
	BufferPersistThreshold int      `yaml:"buffer_persist_threshold"`
	MaxOpenFiles           int      `yaml:"max_open_files"`
	NumRetries             int      `yaml:"num_retries"`
	BlockSize              int      `yaml:"block_size"`
	Dirs                   []string `yaml:"dirs"`

	Compression struct {
		Spill     string `yaml:"spill"`
		Compacted string `yaml:"compacted"`
	} `yaml:"compression"`

	Unique   bool   `yaml:"unique"`
	Reverse  bool   `yaml:"reverse"`
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() Config {
	cfg := Config{
		BufferPersistThreshold: spillmap.DefaultBufferPersistThreshold * 100,
		MaxOpenFiles:           spillmap.DefaultMaxOpenFiles,
		NumRetries:             spillmap.DefaultNumRetries,
		BlockSize:              spillmap.DefaultBlockSize,
		LogLevel:               "warn",
	}
	tiered := compression.DefaultTieredConfig()
	cfg.Compression.Spill = tiered.Spill.Type.String()
	cfg.Compression.Compacted = tiered.Compacted.Type.String()
	return cfg
}

// loadConfig reads path over the defaults. Fields missing from the file
// keep their default.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) tiered() (compression.TieredConfig, error) {
	spill, err := compression.ParseType(c.Compression.Spill)
	if err != nil {
		return compression.TieredConfig{}, fmt.Errorf("spill compression: %w", err)
	}
	compacted, err := compression.ParseType(c.Compression.Compacted)
	if err != nil {
		return compression.TieredConfig{}, fmt.Errorf("compacted compression: %w", err)
	}
	return compression.TieredConfig{
		Spill:     compression.PresetConfig(spill),
		Compacted: compression.PresetConfig(compacted),
	}, nil
}

func (c Config) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
