package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"

	"landfall/internal/pipeline"
)

// Config is the user-supplied configuration, loaded from a YAML file
// with environment variable overrides.
type Config struct {
	// WatchPath is the directory the remote distributor deposits parts
	// into. It must exist at startup.
	WatchPath string `yaml:"watch_path" env:"LANDFALL_WATCH_PATH" validate:"required"`

	// OutputPath is where extracted item output is published, one
	// directory per item. Created if missing. Must not sit inside the
	// watch path, or the pipeline would ingest its own output.
	OutputPath string `yaml:"output_path" env:"LANDFALL_OUTPUT_PATH" validate:"required"`

	Timing     TimingConfig     `yaml:"timing"`
	Concurrent ConcurrentConfig `yaml:"concurrency"`
}

type TimingConfig struct {
	// Coalescing window for bursts of filesystem notifications.
	DebounceMilliseconds int `yaml:"debounce_ms" env:"LANDFALL_DEBOUNCE_MS" env-default:"100" validate:"gte=10"`

	// Interval between the consecutive unchanged polls that establish
	// an items quiescence. The producer is assumed to go quiet for at
	// least this long once a delivery is fully written.
	QuiescenceSeconds int `yaml:"quiescence_seconds" env:"LANDFALL_QUIESCENCE_SECONDS" env-default:"1" validate:"gte=1"`

	// Ceiling on how long an item may keep mutating in Stabilizing
	// before it is failed rather than waited on forever.
	NeverStabilizedCeilingSeconds int `yaml:"never_stabilized_ceiling_seconds" env:"LANDFALL_NEVER_STABILIZED_CEILING_SECONDS" env-default:"120" validate:"gte=2"`

	// Ceiling on how long an item may wait for missing parts in its
	// numbered sequence before it is failed.
	IncompleteSequenceCeilingSeconds int `yaml:"incomplete_sequence_ceiling_seconds" env:"LANDFALL_INCOMPLETE_SEQUENCE_CEILING_SECONDS" env-default:"300" validate:"gte=2"`

	// Interval for the defensive full rescan of the watch tree.
	RescanSeconds int `yaml:"rescan_seconds" env:"LANDFALL_RESCAN_SECONDS" env-default:"30" validate:"gte=5"`
}

type ConcurrentConfig struct {
	AssemblyThreads int `yaml:"assembly_threads" env:"LANDFALL_ASSEMBLY_THREADS" env-default:"2" validate:"gte=1"`
	ProbeThreads    int `yaml:"probe_threads" env:"LANDFALL_PROBE_THREADS" env-default:"2" validate:"gte=1"`
}

// LoadFromFile reads the YAML file at the given path, applies
// environment overrides, and validates the result.
func (config *Config) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from '%s': %w", configPath, err)
	}

	return config.validate()
}

// LoadFromEnv populates the configuration purely from environment
// variables, for running without a config file.
func (config *Config) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return config.validate()
}

func (config *Config) validate() error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	watchAbs, err := filepath.Abs(config.WatchPath)
	if err != nil {
		return fmt.Errorf("watch path '%s' could not be resolved: %w", config.WatchPath, err)
	}
	outputAbs, err := filepath.Abs(config.OutputPath)
	if err != nil {
		return fmt.Errorf("output path '%s' could not be resolved: %w", config.OutputPath, err)
	}
	config.WatchPath = watchAbs
	config.OutputPath = outputAbs

	if rel, err := filepath.Rel(watchAbs, outputAbs); err == nil {
		if rel == "." || !strings.HasPrefix(rel, "..") {
			return fmt.Errorf("output path '%s' must not be inside the watch path '%s'", outputAbs, watchAbs)
		}
	}

	return nil
}

// PipelineConfig converts the user-facing values into the pipeline's
// runtime configuration.
func (config *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		WatchPath:                 config.WatchPath,
		OutputPath:                config.OutputPath,
		Debounce:                  time.Duration(config.Timing.DebounceMilliseconds) * time.Millisecond,
		QuiescenceInterval:        time.Duration(config.Timing.QuiescenceSeconds) * time.Second,
		NeverStabilizedCeiling:    time.Duration(config.Timing.NeverStabilizedCeilingSeconds) * time.Second,
		IncompleteSequenceCeiling: time.Duration(config.Timing.IncompleteSequenceCeilingSeconds) * time.Second,
		RescanInterval:            time.Duration(config.Timing.RescanSeconds) * time.Second,
		AssemblyParallelism:       config.Concurrent.AssemblyThreads,
		ProbeParallelism:          config.Concurrent.ProbeThreads,
	}
}

// DefaultConfigPath derives the conventional location of the config
// file inside the users config directory.
func DefaultConfigPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to derive user home directory: %w", err)
	}

	return filepath.Join(home, ".config", "landfall", "config.yaml"), nil
}

// Exists reports whether a file is present at the given path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
