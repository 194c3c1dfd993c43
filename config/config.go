// Package config handles dexverify.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/chazu/dexverify/verifier"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "dexverify.toml"

// Config represents a dexverify.toml configuration.
type Config struct {
	Verifier Verifier `toml:"verifier"`
	Driver   Driver   `toml:"driver"`
	Linker   Linker   `toml:"linker"`
	Store    Store    `toml:"store"`
	Log      Log      `toml:"log"`

	// Dir is the directory containing the dexverify.toml file (set at load
	// time). Empty for the defaults.
	Dir string `toml:"-"`
}

// Verifier selects the verification mode.
type Verifier struct {
	AheadOfTime       bool `toml:"ahead-of-time"`
	AllowSoftFailures bool `toml:"allow-soft-failures"`
	GenerateAuxMaps   bool `toml:"generate-aux-maps"`
}

// Driver configures the worker pool.
type Driver struct {
	Workers int `toml:"workers"`
}

// Linker configures class resolution.
type Linker struct {
	// ClassPath lists program files linked alongside the verified ones but
	// not verified themselves.
	ClassPath []string `toml:"class-path"`
	CacheSize int      `toml:"cache-size"`
}

// Store configures result persistence.
type Store struct {
	Path string `toml:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	opts := verifier.DefaultOptions()
	return &Config{
		Verifier: Verifier{
			AheadOfTime:       opts.AheadOfTime,
			AllowSoftFailures: opts.AllowSoftFailures,
			GenerateAuxMaps:   opts.GenerateAuxMaps,
		},
		Driver: Driver{Workers: runtime.GOMAXPROCS(0)},
		Linker: Linker{CacheSize: 4096},
	}
}

// Load parses a dexverify.toml file from the given directory. Keys absent
// from the file keep their default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a dexverify.toml file, then
// loads and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate rejects settings no component can honor.
func (c *Config) Validate() error {
	if c.Driver.Workers < 1 {
		return fmt.Errorf("driver.workers must be positive, got %d", c.Driver.Workers)
	}
	if c.Linker.CacheSize < 1 {
		return fmt.Errorf("linker.cache-size must be positive, got %d", c.Linker.CacheSize)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity)
	}
	return nil
}

// Options returns the verifier options.
func (c *Config) Options() verifier.Options {
	return verifier.Options{
		AheadOfTime:       c.Verifier.AheadOfTime,
		AllowSoftFailures: c.Verifier.AllowSoftFailures,
		GenerateAuxMaps:   c.Verifier.GenerateAuxMaps,
	}
}

// Resolve returns path relative to the configuration directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// ClassPathFiles returns the absolute class-path entries.
func (c *Config) ClassPathFiles() []string {
	var paths []string
	for _, p := range c.Linker.ClassPath {
		paths = append(paths, c.Resolve(p))
	}
	return paths
}

// StorePath returns the resolved store path, empty when persistence is off.
func (c *Config) StorePath() string {
	return c.Resolve(c.Store.Path)
}
