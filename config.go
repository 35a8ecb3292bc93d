package mstbake

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"

	"github.com/flywave/go-mstbake/stage"
)

// StagingConfig 暂存仓库配置
type StagingConfig struct {
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	TablePrefix string `toml:"table_prefix"`
	// ReuseTable 为 true 时所有运行共用前缀表，开始前清空
	ReuseTable  bool `toml:"reuse_table"`
	Concurrency int  `toml:"concurrency"`
}

// WorkerConfig 后台任务配置
type WorkerConfig struct {
	Concurrency int  `toml:"concurrency"`
	BuildBVH    bool `toml:"build_bvh"`
	BVHLeafSize int  `toml:"bvh_leaf_size"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Staging StagingConfig `toml:"staging"`
	Worker  WorkerConfig  `toml:"worker"`
	Log     LogConfig     `toml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Staging: StagingConfig{
			Driver:      stage.DriverSQLite,
			Path:        "mstbake.db",
			TablePrefix: DefaultTablePrefix,
			Concurrency: 4,
		},
		Worker: WorkerConfig{
			Concurrency: 1,
			BuildBVH:    true,
			BVHLeafSize: DefaultLeafSize,
		},
		Log: LogConfig{Level: "info"},
	}
}

// ParseConfig 解析 TOML，未出现的键保留默认值
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// Marshal 输出 TOML
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Staging.Driver {
	case stage.DriverSQLite, stage.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("staging.driver: unknown driver %q", c.Staging.Driver))
	}
	if err := stage.ValidateTable(c.Staging.TablePrefix); err != nil {
		errs = append(errs, fmt.Errorf("staging.table_prefix: %w", err))
	}
	if c.Staging.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("staging.concurrency: must be >= 1, got %d", c.Staging.Concurrency))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency: must be >= 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.BVHLeafSize < 1 {
		errs = append(errs, fmt.Errorf("worker.bvh_leaf_size: must be >= 1, got %d", c.Worker.BVHLeafSize))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
