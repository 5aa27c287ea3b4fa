package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentforest/forest/internal/align"
	"github.com/agentforest/forest/internal/cluster"
	"github.com/agentforest/forest/internal/oracle/claude"
)

// fileConfig is the forest.yaml schema. Every field is optional;
// zero values fall back to defaults, and FOREST_* environment
// variables override file values.
type fileConfig struct {
	Model              string `yaml:"model"`
	StateDB            string `yaml:"state_db"`
	Output             string `yaml:"output"`
	Workers            int    `yaml:"workers"`
	BatchSize          int    `yaml:"batch_size"`
	MaxRetries         *int   `yaml:"max_retries"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	RatePerMinute      int    `yaml:"rate_per_minute"`
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
}

const (
	defaultConfigFile  = "forest.yaml"
	defaultStateDB     = "forest.db"
	defaultOutput      = "redundancy_report.json"
	defaultJudgeOutput = "journal_judgments.json"
)

// loadConfig reads the config file if one exists. A missing default
// file is fine; a missing explicit --config path is an error.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// clusterConfig merges file settings into the cluster defaults, then
// applies environment overrides.
func (c fileConfig) clusterConfig() (cluster.Config, error) {
	cfg, err := cluster.ConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	if c.BatchSize > 0 && os.Getenv("FOREST_CLUSTER_BATCH_SIZE") == "" {
		cfg.BatchSize = c.BatchSize
	}
	if c.MaxRetries != nil && os.Getenv("FOREST_CLUSTER_MAX_RETRIES") == "" {
		cfg.MaxRetries = *c.MaxRetries
	}
	if c.RequestTimeoutSecs > 0 && os.Getenv("FOREST_CLUSTER_TIMEOUT_SECS") == "" {
		cfg.RequestTimeout = time.Duration(c.RequestTimeoutSecs) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cluster config: %w", err)
	}
	return cfg, nil
}

// alignConfig merges file settings into the alignment defaults. The
// retry knobs are shared with clustering.
func (c fileConfig) alignConfig() align.Config {
	cfg := align.DefaultConfig()
	if c.MaxRetries != nil {
		cfg.MaxRetries = *c.MaxRetries
	}
	if c.RequestTimeoutSecs > 0 {
		cfg.RequestTimeout = time.Duration(c.RequestTimeoutSecs) * time.Second
	}
	return cfg
}

func (c fileConfig) judgeConfig() claude.Config {
	return claude.Config{
		Model:              c.Model,
		RequestsPerMinute:  c.RatePerMinute,
		MaxConcurrentCalls: c.MaxConcurrentCalls,
	}
}

func (c fileConfig) statePath() string {
	if stateFlag != "" {
		return stateFlag
	}
	if c.StateDB != "" {
		return c.StateDB
	}
	return defaultStateDB
}

func (c fileConfig) outputPath(flag string) string {
	if flag != "" {
		return flag
	}
	if c.Output != "" {
		return c.Output
	}
	return defaultOutput
}

func (c fileConfig) workerCount() int {
	return c.Workers
}
