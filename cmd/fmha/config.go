package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the fmha configuration file (~/.config/fmha/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Problem-shape defaults
	BatchSize  *int64 `yaml:"batch_size"`
	HeadNumber *int64 `yaml:"head_number"`
	HeadSize   *int64 `yaml:"head_size"`
	HeadSizeV  *int64 `yaml:"head_size_v"`
	SeqLength  *int64 `yaml:"seq_length"`
	Seed       *int64 `yaml:"seed"`

	// Launch defaults
	SchedulerMode string `yaml:"scheduler_mode"`
	TileRows      *int64 `yaml:"tile_rows"`
	TileCols      *int64 `yaml:"tile_cols"`
	Units         *int64 `yaml:"units"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "fmha", "config.yaml")
}

// applyProblemConfig applies config file defaults to the shared problem and
// launch variables when the corresponding CLI flag was not explicitly set.
func applyProblemConfig(c *cli.Command, cfg Config) {
	if cfg.BatchSize != nil && !c.IsSet("batch-size") && !c.IsSet("batch_size") && !c.IsSet("b") {
		batchSize = *cfg.BatchSize
	}
	if cfg.HeadNumber != nil && !c.IsSet("head-number") && !c.IsSet("head_number") && !c.IsSet("heads") {
		headNumber = *cfg.HeadNumber
	}
	if cfg.HeadSize != nil && !c.IsSet("head-size") && !c.IsSet("head_size") && !c.IsSet("d") {
		headSize = *cfg.HeadSize
	}
	if cfg.HeadSizeV != nil && !c.IsSet("head-size-v") && !c.IsSet("head_size_v") && !c.IsSet("dv") {
		headSizeV = *cfg.HeadSizeV
	}
	if cfg.SeqLength != nil && !c.IsSet("seq-length") && !c.IsSet("seq_length") && !c.IsSet("s") {
		seqLength = *cfg.SeqLength
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.SchedulerMode != "" && !c.IsSet("scheduler-mode") && !c.IsSet("scheduler_mode") && !c.IsSet("sched") {
		schedulerMode = cfg.SchedulerMode
	}
	if cfg.TileRows != nil && !c.IsSet("tile-rows") && !c.IsSet("tile_rows") {
		tileRows = *cfg.TileRows
	}
	if cfg.TileCols != nil && !c.IsSet("tile-cols") && !c.IsSet("tile_cols") {
		tileCols = *cfg.TileCols
	}
	if cfg.Units != nil && !c.IsSet("units") && !c.IsSet("u") {
		units = *cfg.Units
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.Units != nil && !c.IsSet("units") && !c.IsSet("u") {
		units = *cfg.Units
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file, honoring the --config override.
// Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configFile
	if path == "" {
		path = configPath()
	}
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
