// Package config loads the YAML configuration of a GojoStore process.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sushant-115/gojostore/pkg/logger"
	"github.com/sushant-115/gojostore/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// StorageConfig sizes the disk manager, buffer pool and log.
type StorageConfig struct {
	DataDir          string        `yaml:"data_dir"`
	PageSize         int           `yaml:"page_size"`
	PoolSize         int           `yaml:"pool_size"`
	LogFileName      string        `yaml:"log_file_name"`
	LogBufferSize    int           `yaml:"log_buffer_size"`
	LogFlushInterval time.Duration `yaml:"log_flush_interval"`
	// BackupRateBytes throttles record file backups. 0 means unlimited.
	BackupRateBytes int64 `yaml:"backup_rate_bytes"`
}

type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns a configuration usable without any file.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataDir:          "data",
			PageSize:         4096,
			PoolSize:         64,
			LogFileName:      "db.log",
			LogBufferSize:    64 * 1024,
			LogFlushInterval: 100 * time.Millisecond,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			ServiceName:      telemetry.DefaultServiceName,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path on top of Default. Keys missing from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	s := c.Storage
	if s.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must be set"))
	}
	if s.PageSize < 64 || s.PageSize&(s.PageSize-1) != 0 {
		errs = append(errs, fmt.Errorf("storage.page_size must be a power of two >= 64, got %d", s.PageSize))
	}
	if s.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be positive, got %d", s.PoolSize))
	}
	if s.LogFileName == "" {
		errs = append(errs, errors.New("storage.log_file_name must be set"))
	}
	if s.LogBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.log_buffer_size must be positive, got %d", s.LogBufferSize))
	}
	if s.LogFlushInterval < 0 {
		errs = append(errs, fmt.Errorf("storage.log_flush_interval must not be negative, got %s", s.LogFlushInterval))
	}
	if s.BackupRateBytes < 0 {
		errs = append(errs, fmt.Errorf("storage.backup_rate_bytes must not be negative, got %d", s.BackupRateBytes))
	}
	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
