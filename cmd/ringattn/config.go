package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the ringattn configuration file
// (~/.config/ringattn/config.yaml). Fields are pointers so "not set" is
// distinguishable from zero values; explicit CLI flags always win.
type Config struct {
	World     *int64 `yaml:"world"`
	ShardSize *int64 `yaml:"shard_size"`
	QBlock    *int64 `yaml:"q_block"`
	KBlock    *int64 `yaml:"k_block"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ringattn", "config.yaml")
}

func loadConfig() Config {
	var cfg Config
	path := configPath()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	// A malformed config file is ignored rather than fatal; flags and
	// defaults still apply.
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

// applyConfig fills flag destinations from the config file when the
// corresponding flag was not set on the command line.
func applyConfig(c *cli.Command, cfg Config) {
	if cfg.World != nil && !c.IsSet("world") {
		worldSize = *cfg.World
	}
	if cfg.ShardSize != nil && !c.IsSet("shard-size") {
		shardSize = *cfg.ShardSize
	}
	if cfg.QBlock != nil && !c.IsSet("q-block") {
		qBlock = *cfg.QBlock
	}
	if cfg.KBlock != nil && !c.IsSet("k-block") {
		kBlock = *cfg.KBlock
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
