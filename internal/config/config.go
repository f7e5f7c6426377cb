// Package config loads sparseconv settings from defaults, an optional YAML
// file and SPCONV_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/born-ml/sparseconv/internal/parallel"
	"github.com/born-ml/sparseconv/internal/spconv"
)

// EnvPrefix is the environment variable prefix; "algo" is read from
// SPCONV_ALGO and "parallel.workers" from SPCONV_PARALLEL_WORKERS.
const EnvPrefix = "SPCONV"

// Config represents the application configuration
type Config struct {
	// Algo is the backend convolution algorithm: native or implicit_gemm.
	Algo string `mapstructure:"algo"`
	// Debug turns on reorder verification in inverse convolutions.
	Debug bool `mapstructure:"debug"`

	Parallel ParallelConfig `mapstructure:"parallel"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ParallelConfig struct {
	Workers  int `mapstructure:"workers"` // 0 means one per CPU
	MinChunk int `mapstructure:"min_chunk"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Algo:  spconv.AlgoNative.String(),
		Debug: false,
		Parallel: ParallelConfig{
			Workers:  0,
			MinChunk: parallel.DefaultConfig().MinChunkSize,
		},
		Logging: LoggingConfig{
			Level:   "warn",
			File:    "",
			Console: true,
		},
	}
}

// Load loads configuration from file, environment, and defaults.
// With an empty cfgFile, config.yaml is looked up in ./ and ~/.sparseconv;
// a missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sparseconv"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := spconv.ParseAlgo(c.Algo); err != nil {
		return err
	}
	if c.Parallel.Workers < 0 {
		return errors.New("parallel.workers must be >= 0")
	}
	if c.Parallel.MinChunk < 1 {
		return errors.New("parallel.min_chunk must be >= 1")
	}
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	return nil
}

// ConvAlgo returns the parsed convolution algorithm.
func (c *Config) ConvAlgo() spconv.Algo {
	algo, err := spconv.ParseAlgo(c.Algo)
	if err != nil {
		return spconv.AlgoNative
	}
	return algo
}

// ParallelConfig returns the worker settings for the CPU backend.
func (c *Config) ParallelConfig() parallel.Config {
	cfg := parallel.DefaultConfig().WithWorkers(c.Parallel.Workers)
	cfg.MinChunkSize = c.Parallel.MinChunk
	return cfg
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("algo", cfg.Algo)
	v.SetDefault("debug", cfg.Debug)

	v.SetDefault("parallel.workers", cfg.Parallel.Workers)
	v.SetDefault("parallel.min_chunk", cfg.Parallel.MinChunk)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}
