package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sql-advisor/internal/catalog"
	"sql-advisor/internal/model"
)

// Config is the on-disk YAML configuration. Every field has a working
// default, so an empty file (or no file at all) is valid.
type Config struct {
	Business          catalog.ConnConfig `yaml:"business_db"`
	SnapshotPath      string             `yaml:"snapshot_path"`
	ExcludedDatabases []string           `yaml:"excluded_databases"`
	Policy            model.Policy       `yaml:"policy"`
	Verbose           bool               `yaml:"verbose"`
}

func Default() Config {
	return Config{Policy: model.DefaultPolicy()}
}

// Load reads path and overlays it onto the defaults. A missing file is
// not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := model.DefaultPolicy()
	if c.Policy.CompositeCap <= 0 {
		c.Policy.CompositeCap = def.CompositeCap
	}
	if c.Policy.PriorityColumn == "" {
		c.Policy.PriorityColumn = def.PriorityColumn
	}
	if c.Policy.ArchiveRowCount <= 0 {
		c.Policy.ArchiveRowCount = def.ArchiveRowCount
	}
	if c.Policy.HotQueryCount <= 0 {
		c.Policy.HotQueryCount = def.HotQueryCount
	}
	if c.Policy.DefaultLatencyMs <= 0 {
		c.Policy.DefaultLatencyMs = def.DefaultLatencyMs
	}
}

// NewLogger builds the process logger. Verbose enables debug level and
// development-style output.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
