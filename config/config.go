// Package config loads the YAML configuration shared by the mcmri commands.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Noofbiz/mcmri/datasets"
	"github.com/Noofbiz/mcmri/logging"
	"github.com/Noofbiz/mcmri/synth"
)

// File is the top-level configuration.
type File struct {
	Dataset datasets.Config       `yaml:"dataset"`
	Loader  datasets.LoaderConfig `yaml:"loader"`
	Synth   synth.Options         `yaml:"synth"`
	Logging LoggingConfig         `yaml:"logging"`

	// Seed seeds every random source. Without it runs draw fresh entropy.
	Seed *int64 `yaml:"seed"`
	// Workers caps worker pools; 0 means one per CPU.
	Workers int `yaml:"workers"`
	// OutputDir receives previews and simulated stores.
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a File with sensible defaults.
func Default() *File {
	return &File{
		Dataset: datasets.Config{
			DataFile:  "data/train.db",
			MasksFile: "data/train_masks.db",
			CacheDir:  "cache",
		},
		Loader:    datasets.LoaderConfig{BatchSize: 4, Shuffle: true},
		Synth:     synth.DefaultOptions(),
		Logging:   LoggingConfig{Level: "info"},
		OutputDir: "output",
	}
}

// Load reads path when it is non-empty and applies environment overrides.
// Order: defaults -> path -> MCMRI_* environment variables.
func Load(path string) (*File, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file on top of the
// defaults.
func LoadFromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings that do not need any store.
func (c *File) Validate() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: trace, debug, info, warn, error)", c.Logging.Level)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.Loader.BatchSize <= 0 {
		return fmt.Errorf("loader batch_size must be positive, got %d", c.Loader.BatchSize)
	}
	return c.Dataset.Validate()
}

// Marshal renders the configuration as YAML.
func (c *File) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func applyEnvOverrides(cfg *File) {
	if v := os.Getenv("MCMRI_DATA_FILE"); v != "" {
		cfg.Dataset.DataFile = v
	}
	if v := os.Getenv("MCMRI_MASKS_FILE"); v != "" {
		cfg.Dataset.MasksFile = v
	}
	if v := os.Getenv("MCMRI_STDEV"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dataset.Forward.Stdev = f
		}
	}
	if v := os.Getenv("MCMRI_INVERSE_CRIME"); v != "" {
		cfg.Dataset.Forward.InverseCrime = v == "true" || v == "1"
	}
	if v := os.Getenv("MCMRI_NONCART"); v != "" {
		cfg.Dataset.Forward.NonCart = v == "true" || v == "1"
	}
	if v := os.Getenv("MCMRI_ADJOINT_DATA"); v != "" {
		cfg.Dataset.Forward.AdjointData = v == "true" || v == "1"
	}
	if v := os.Getenv("MCMRI_CACHE_DIR"); v != "" {
		cfg.Dataset.CacheDir = v
	}
	if v := os.Getenv("MCMRI_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = &n
		}
	}
	if v := os.Getenv("MCMRI_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("MCMRI_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("MCMRI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
